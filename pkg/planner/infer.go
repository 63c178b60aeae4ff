package planner

import (
	"regexp"
	"strings"
)

// FallbackFilename is used when a target name is descriptive but nothing
// usable can be extracted from it.
const FallbackFilename = "GeneratedComponent.tsx"

var (
	wordRe       = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*`)
	filenameRe   = regexp.MustCompile(`^[\w./-]+\.[A-Za-z0-9]+$`)
	camelWordRe  = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
	hookPhraseRe = regexp.MustCompile(`(?i)\bhook\b`)
	ctxPhraseRe  = regexp.MustCompile(`(?i)\bcontext\b`)
)

// Words that carry no naming information in a descriptive phrase.
//
//nolint:gochecknoglobals // Static stopword set
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "to": true, "of": true,
	"create": true, "add": true, "make": true, "build": true, "new": true,
	"component": true, "hook": true, "context": true, "file": true,
	"that": true, "with": true, "and": true, "in": true, "on": true,
}

// IsSafePath rejects names a plan must never contain: wildcards, path
// traversal, and absolute paths. Rejection here is immediate; no attempt
// is made to sanitize such names further.
func IsSafePath(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "*?[]{}") {
		return false
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}

// looksLikeFilename reports whether the string is already a plausible
// relative file path with an extension.
func looksLikeFilename(name string) bool {
	return !strings.Contains(name, " ") && filenameRe.MatchString(name)
}

// InferFilename derives a plausible camel-cased component/hook/context
// filename from a descriptive phrase, e.g. "create a ThemeToggle component"
// -> "ThemeToggle.tsx". Returns false when nothing usable can be extracted.
// This is best-effort pattern matching, not a parser.
func InferFilename(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	base := ""
	// An explicit CamelCase name in the phrase wins.
	if m := camelWordRe.FindString(text); m != "" {
		base = m
	} else {
		var parts []string
		for _, w := range wordRe.FindAllString(text, -1) {
			if stopwords[strings.ToLower(w)] {
				continue
			}
			parts = append(parts, strings.ToUpper(w[:1])+strings.ToLower(w[1:]))
			if len(parts) == 3 {
				break
			}
		}
		base = strings.Join(parts, "")
	}
	if base == "" {
		return "", false
	}

	switch {
	case hookPhraseRe.MatchString(text):
		return "use" + base + ".ts", true
	case ctxPhraseRe.MatchString(text):
		return base + "Context.tsx", true
	default:
		return base + ".tsx", true
	}
}

// sanitizeTargets cleans the model's target-file list. Unsafe names are
// dropped, descriptive phrases are turned into filenames, and anything
// unrecoverable becomes the generic fallback name rather than failing the
// whole plan.
func sanitizeTargets(raw []string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !IsSafePath(name) {
			continue
		}
		if looksLikeFilename(name) {
			add(name)
			continue
		}
		if inferred, ok := InferFilename(name); ok {
			add(inferred)
			continue
		}
		add(FallbackFilename)
	}
	return out
}
