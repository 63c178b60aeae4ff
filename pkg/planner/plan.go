// Package planner turns a natural-language transcript into a structured
// change plan via the model gateway, with a deterministic fallback.
package planner

// Priority levels for a plan.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Plan is the structured output of plan generation: what to change and
// which files to touch.
type Plan struct {
	Description     string   `json:"description"`
	Priority        string   `json:"priority"`
	EstimatedEffort string   `json:"estimated_effort"`
	Breakdown       []string `json:"breakdown"`
	TargetFiles     []string `json:"target_files"`
	Dependencies    []string `json:"dependencies"`
}

// normalizePriority maps arbitrary model output onto the three levels.
func normalizePriority(p string) string {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p
	default:
		return PriorityMedium
	}
}
