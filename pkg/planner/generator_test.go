package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/limiter"
)

func testWindow() *limiter.Window {
	return limiter.NewWindow(100, time.Minute)
}

func TestPlanFromJSONReply(t *testing.T) {
	reply := `Here is the plan:
{
  "description": "Make the add button blue",
  "priority": "high",
  "estimated_effort": "1-2 hours",
  "breakdown": ["Locate the button style", "Change the color"],
  "target_files": ["src/App.css"],
  "dependencies": ["css"]
}`
	mock := gateway.NewMockClient([]string{reply}, nil)
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "make the add button blue", false)
	require.NoError(t, err)
	assert.Equal(t, "Make the add button blue", plan.Description)
	assert.Equal(t, PriorityHigh, plan.Priority)
	assert.Equal(t, []string{"src/App.css"}, plan.TargetFiles)
	assert.Len(t, plan.Breakdown, 2)
}

func TestPlanNormalizesBogusPriority(t *testing.T) {
	reply := `{"description": "d", "priority": "EXTREME", "breakdown": [], "target_files": ["src/App.tsx"]}`
	mock := gateway.NewMockClient([]string{reply}, nil)
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "do something", false)
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, plan.Priority)
}

func TestPlanTextFallbackExtraction(t *testing.T) {
	reply := `This change is urgent and should take about 2-3 hours.
1. Open the stylesheet
2. Update the color
- verify in the browser`
	mock := gateway.NewMockClient([]string{reply}, nil)
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "make the add button blue", true)
	require.NoError(t, err)
	assert.Equal(t, "make the add button blue", plan.Description)
	assert.Equal(t, PriorityHigh, plan.Priority)
	assert.Equal(t, "2-3 hours", plan.EstimatedEffort)
	assert.Equal(t, []string{"Open the stylesheet", "Update the color", "verify in the browser"}, plan.Breakdown)
	assert.Equal(t, []string{"src/App.css", "src/App.tsx"}, plan.TargetFiles)
}

func TestPlanGatewayFailureFallsBack(t *testing.T) {
	mock := gateway.NewMockClient(nil, []error{gateway.NewError(gateway.KindTransient, "connection reset")})
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "add a dark mode toggle", false)
	require.NoError(t, err)
	assert.Equal(t, "add a dark mode toggle", plan.Description)
	assert.Equal(t, []string{"src/App.tsx"}, plan.TargetFiles)
	assert.NotEmpty(t, plan.Breakdown)
}

func TestPlanRateLimitPropagates(t *testing.T) {
	mock := gateway.NewMockClient(nil, []error{gateway.NewError(gateway.KindRateLimit, "quota exhausted")})
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "add a dark mode toggle", false)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.True(t, gateway.IsRateLimit(err))
}

func TestPlanNilGatewayUsesFallback(t *testing.T) {
	gen := NewGenerator(nil, testWindow())

	plan, err := gen.Plan(context.Background(), "refactor the list view", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/App.css", "src/App.tsx"}, plan.TargetFiles)
	assert.Equal(t, PriorityMedium, plan.Priority)
}

func TestPlanEmptyTranscriptRejected(t *testing.T) {
	gen := NewGenerator(nil, testWindow())

	_, err := gen.Plan(context.Background(), "   ", false)
	assert.Error(t, err)
}

func TestPlanSanitizesUnsafeTargets(t *testing.T) {
	reply := `{"description": "d", "priority": "low", "breakdown": ["x"],
	  "target_files": ["../secrets.txt", "/etc/passwd", "src/*.tsx", "src/App.tsx"]}`
	mock := gateway.NewMockClient([]string{reply}, nil)
	gen := NewGenerator(mock, testWindow())

	plan, err := gen.Plan(context.Background(), "do something", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/App.tsx"}, plan.TargetFiles)
}

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"surrounded by prose", `sure! {"a": {"b": 2}} done`, `{"a": {"b": 2}}`, true},
		{"braces in strings", `{"a": "}{"}`, `{"a": "}{"}`, true},
		{"no object", "just text", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := firstJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
