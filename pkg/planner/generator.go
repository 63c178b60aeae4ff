package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/limiter"
	"vocalcommit/pkg/logx"
)

// Generator produces plans from transcripts. A nil gateway client is valid
// and yields the deterministic fallback plan: availability over intelligence.
type Generator struct {
	gw      gateway.Client
	window  *limiter.Window
	logger  *logx.Logger
}

// NewGenerator creates a plan generator. gw may be nil when no model
// backend is configured.
func NewGenerator(gw gateway.Client, window *limiter.Window) *Generator {
	return &Generator{
		gw:     gw,
		window: window,
		logger: logx.NewLogger("planner"),
	}
}

const planPrompt = `You are the planning step of a voice-driven code change pipeline
for a React todo web app. Analyze the request below and respond with a single
JSON object and nothing else, using exactly these fields:

{
  "description": "one-line summary of the change",
  "priority": "low|medium|high",
  "estimated_effort": "e.g. 1-2 hours",
  "breakdown": ["ordered implementation steps"],
  "target_files": ["relative file paths to edit, e.g. src/App.tsx"],
  "dependencies": ["technology tags, e.g. react, css"]
}

Request: %s`

// Plan generates a structured plan for the transcript.
//
// Rate-limit errors from the gateway propagate unchanged: they mean the
// credential is exhausted, which the operator must see. Every other
// failure degrades to the fallback plan so the pipeline keeps moving.
func (g *Generator) Plan(ctx context.Context, transcript string, uiEditing bool) (*Plan, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("transcript must not be empty")
	}

	if g.gw == nil {
		g.logger.Info("No model backend configured, using fallback plan")
		return g.fallbackPlan(transcript, uiEditing), nil
	}

	waited, err := g.window.Admit(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter admission: %w", err)
	}
	if waited > 0 {
		g.logger.Debug("Waited %.1fs for rate limiter before planning", waited.Seconds())
	}

	text, err := g.gw.Generate(ctx, fmt.Sprintf(planPrompt, transcript))
	if err != nil {
		if gateway.IsRateLimit(err) {
			return nil, fmt.Errorf("plan generation hit the model rate limit: %w", err)
		}
		g.logger.Warn("Model planning failed (%v), using fallback plan", err)
		return g.fallbackPlan(transcript, uiEditing), nil
	}

	plan := g.parsePlan(text, transcript)
	plan.TargetFiles = sanitizeTargets(plan.TargetFiles)
	if len(plan.TargetFiles) == 0 {
		plan.TargetFiles = defaultTargets(uiEditing)
	}
	return plan, nil
}

// parsePlan extracts a plan from the model reply: first a well-formed JSON
// object, then regex text extraction when the model ignored the format.
func (g *Generator) parsePlan(text, transcript string) *Plan {
	if raw, ok := firstJSONObject(text); ok {
		var plan Plan
		if err := json.Unmarshal([]byte(raw), &plan); err == nil && plan.Description != "" {
			plan.Priority = normalizePriority(plan.Priority)
			return &plan
		}
	}

	g.logger.Debug("Model reply was not valid JSON, extracting plan from text")
	return &Plan{
		Description:     transcript,
		Priority:        extractPriority(text),
		EstimatedEffort: extractEffort(text),
		Breakdown:       extractSteps(text),
		TargetFiles:     nil,
		Dependencies:    nil,
	}
}

// firstJSONObject locates the first balanced JSON object in s, skipping
// brace characters inside string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	stepRe     = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)
	highRe     = regexp.MustCompile(`(?i)\b(high|urgent|critical|asap)\b`)
	lowRe      = regexp.MustCompile(`(?i)\b(low|minor|trivial)\b`)
	effortRe   = regexp.MustCompile(`(?i)\b\d+\s*(?:-\s*\d+\s*)?(?:hours?|hrs?|days?)\b`)
)

func extractSteps(text string) []string {
	var steps []string
	for _, m := range stepRe.FindAllStringSubmatch(text, -1) {
		steps = append(steps, strings.TrimSpace(m[1]))
	}
	return steps
}

func extractPriority(text string) string {
	switch {
	case highRe.MatchString(text):
		return PriorityHigh
	case lowRe.MatchString(text):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func extractEffort(text string) string {
	if m := effortRe.FindString(text); m != "" {
		return m
	}
	return "unknown"
}

func defaultTargets(uiEditing bool) []string {
	if uiEditing {
		return []string{"src/App.css", "src/App.tsx"}
	}
	return []string{"src/App.tsx"}
}

// fallbackPlan is the deterministic plan used when the model is
// unavailable. The pipeline proceeds with a canned breakdown instead of
// refusing the request.
func (g *Generator) fallbackPlan(transcript string, uiEditing bool) *Plan {
	return &Plan{
		Description:     transcript,
		Priority:        PriorityMedium,
		EstimatedEffort: "2-4 hours",
		Breakdown: []string{
			"Analyze requirements",
			"Design solution",
			"Implement core functionality",
			"Verify in the todo UI",
		},
		TargetFiles:  defaultTargets(uiEditing),
		Dependencies: []string{"react", "typescript"},
	}
}
