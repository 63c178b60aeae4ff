// Package editor applies model-generated code changes to files in the
// working tree, one gateway call per target file.
package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vocalcommit/pkg/config"
	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/limiter"
	"vocalcommit/pkg/logx"
)

// BatchStatus summarizes a multi-file edit.
type BatchStatus string

// Batch outcomes.
const (
	StatusSuccess BatchStatus = "success"
	StatusPartial BatchStatus = "partial_success"
	StatusError   BatchStatus = "error"
)

// FileFailure records why one target file could not be edited.
type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// BatchResult reports which files were written and which failed.
type BatchResult struct {
	Status   BatchStatus   `json:"status"`
	Modified []string      `json:"modified"`
	Failures []FileFailure `json:"failures,omitempty"`
}

// Editor rewrites target files through the model gateway. One instance is
// bound to a single working tree root and never writes outside it.
type Editor struct {
	gw      gateway.Client
	window  *limiter.Window
	baseDir string
	strict  bool
	budget  int
	counter *tokenCounter
	logger  *logx.Logger
}

// New creates an editor rooted at baseDir. baseDir must be absolute.
func New(gw gateway.Client, window *limiter.Window, baseDir string, cfg config.EditConfig) (*Editor, error) {
	if !filepath.IsAbs(baseDir) {
		return nil, fmt.Errorf("editor base dir must be absolute, got %s", baseDir)
	}
	counter, err := newTokenCounter()
	if err != nil {
		// Degraded counting is acceptable; the fallback estimate still
		// bounds the prompt.
		counter = nil
	}
	return &Editor{
		gw:      gw,
		window:  window,
		baseDir: filepath.Clean(baseDir),
		strict:  cfg.Strict,
		budget:  cfg.PromptTokenBudget,
		counter: counter,
		logger:  logx.NewLogger("editor"),
	}, nil
}

// resolve maps a relative target onto the working tree, rejecting anything
// that would escape the base directory.
func (e *Editor) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid target path %q", rel)
	}
	abs := filepath.Join(e.baseDir, filepath.Clean(rel))
	if abs != e.baseDir && !strings.HasPrefix(abs, e.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("target path %q escapes the working tree", rel)
	}
	return abs, nil
}

// orderTargets puts stylesheets before components so that a component
// edited later in the same batch can reference classes that already exist.
// Ordering is stable within each bucket.
func orderTargets(targets []string) []string {
	ordered := make([]string, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return isStylesheet(ordered[i]) && !isStylesheet(ordered[j])
	})
	return ordered
}

func isStylesheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".sass", ".less":
		return true
	default:
		return false
	}
}

const siblingPreviewChars = 500

// buildPrompt assembles the per-file edit prompt. Sibling previews are the
// first expendable piece when the token budget is tight, then the current
// file content is truncated.
func (e *Editor) buildPrompt(relPath, instruction, current string, siblings map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `You are modifying one file of a React todo web app written in TypeScript.

Task: %s

File to modify: %s

Respond with ONLY the complete new content of this file. No explanation,
no markdown fences.

`, instruction, relPath)

	head := sb.String()

	var sibs strings.Builder
	if len(siblings) > 0 {
		sibs.WriteString("Related files already updated in this change:\n")
		names := make([]string, 0, len(siblings))
		for name := range siblings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			preview := siblings[name]
			if len(preview) > siblingPreviewChars {
				preview = preview[:siblingPreviewChars] + "\n// ..."
			}
			fmt.Fprintf(&sibs, "--- %s ---\n%s\n", name, preview)
		}
		sibs.WriteString("\n")
	}

	body := "Current content of " + relPath + ":\n" + current + "\n"

	prompt := head + sibs.String() + body
	if e.counter.count(prompt) <= e.budget {
		return prompt
	}

	prompt = head + body
	if e.counter.count(prompt) <= e.budget {
		return prompt
	}

	overhead := e.counter.count(head) + 50
	return head + "Current content of " + relPath + ":\n" +
		e.counter.truncate(current, e.budget-overhead) + "\n"
}

// stripFences removes a surrounding markdown code fence if the model added
// one despite the instructions.
func stripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return reply
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return reply
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// editOne rewrites a single file and returns the new content.
func (e *Editor) editOne(ctx context.Context, relPath, instruction string, siblings map[string]string) (string, error) {
	abs, err := e.resolve(relPath)
	if err != nil {
		return "", err
	}

	current := ""
	if data, err := os.ReadFile(abs); err == nil {
		current = string(data)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}

	if _, err := e.window.Admit(ctx); err != nil {
		return "", fmt.Errorf("rate limiter admission: %w", err)
	}

	reply, err := e.gw.Generate(ctx, e.buildPrompt(relPath, instruction, current, siblings))
	if err != nil {
		return "", err
	}

	content := stripFences(reply)
	if strings.TrimSpace(content) == "" {
		return "", gateway.NewError(gateway.KindEmptyResponse, "model returned empty file content")
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", relPath, err)
	}

	e.logger.Info("Edited %s (%d bytes)", relPath, len(content))
	return content, nil
}

// EditBatch applies the instruction to every target file in order.
//
// A single-file failure is recorded and the batch continues, except that a
// rate-limit error aborts immediately and is returned so the caller can
// surface it. In strict mode the first failure of any kind aborts the
// remaining targets and the batch reports StatusError.
func (e *Editor) EditBatch(ctx context.Context, instruction string, targets []string) (*BatchResult, error) {
	result := &BatchResult{Status: StatusError}

	if e.gw == nil {
		return result, fmt.Errorf("no model backend configured for file editing")
	}
	if len(targets) == 0 {
		return result, fmt.Errorf("no target files to edit")
	}

	siblings := make(map[string]string)
	var rateLimited error

	for _, target := range orderTargets(targets) {
		content, err := e.editOne(ctx, target, instruction, siblings)
		if err != nil {
			e.logger.Warn("Edit of %s failed: %v", target, err)
			result.Failures = append(result.Failures, FileFailure{Path: target, Reason: err.Error()})
			if gateway.IsRateLimit(err) {
				rateLimited = err
				break
			}
			if e.strict {
				break
			}
			continue
		}
		result.Modified = append(result.Modified, target)
		siblings[target] = content
	}

	switch {
	case e.strict && len(result.Failures) > 0:
		result.Status = StatusError
	case len(result.Failures) == 0:
		result.Status = StatusSuccess
	case len(result.Modified) > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusError
	}

	if rateLimited != nil {
		return result, rateLimited
	}
	return result, nil
}
