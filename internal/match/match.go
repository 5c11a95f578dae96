// Package match resolves column names across the two sides of a sync.
// Matching is an ordered list of strategies; the exact-name strategy is
// always first and terminal on success, the rest exist only to tolerate
// historical drift between remote and local schemas.
package match

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Strategy tries to resolve a wanted name against a candidate set.
type Strategy interface {
	Name() string
	Try(want string, candidates []string) (string, bool)
}

// Result is a successful resolution.
type Result struct {
	Candidate string
	Strategy  string
}

// Matcher runs strategies in order and remembers resolutions so strategy
// choices stay stable within a run.
type Matcher struct {
	strategies []Strategy
	logger     *slog.Logger
	resolved   map[string]Result
}

// New creates a Matcher with the default strategy chain.
func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Matcher{
		strategies: []Strategy{
			exactStrategy{},
			caseFoldStrategy{},
			normalizeStrategy{},
			pluralStrategy{},
			synonymStrategy{},
		},
		logger:   logger,
		resolved: make(map[string]Result),
	}
}

// Match resolves want against candidates. Cached resolutions are reused
// when the cached candidate is still present. Strategies past the first
// emit a debug note naming which one resolved.
func (m *Matcher) Match(want string, candidates []string) (Result, bool) {
	if prior, ok := m.resolved[want]; ok && contains(candidates, prior.Candidate) {
		return prior, true
	}

	for i, s := range m.strategies {
		candidate, ok := s.Try(want, candidates)
		if !ok {
			continue
		}

		res := Result{Candidate: candidate, Strategy: s.Name()}
		m.resolved[want] = res

		if i > 0 {
			m.logger.Debug("column resolved by fallback strategy",
				slog.String("want", want),
				slog.String("candidate", candidate),
				slog.String("strategy", s.Name()),
			)
		}

		return res, true
	}

	return Result{}, false
}

// Reset clears remembered resolutions. Called at run start and after any
// schema change.
func (m *Matcher) Reset() {
	m.resolved = make(map[string]Result)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

// --- strategies ---

// exactStrategy: byte-for-byte equality. Preferred; terminal on success.
type exactStrategy struct{}

func (exactStrategy) Name() string { return "exact" }

func (exactStrategy) Try(want string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if c == want {
			return c, true
		}
	}

	return "", false
}

// caseFoldStrategy: Unicode case folding.
type caseFoldStrategy struct{}

func (caseFoldStrategy) Name() string { return "case-insensitive" }

func (caseFoldStrategy) Try(want string, candidates []string) (string, bool) {
	folder := cases.Fold()
	folded := folder.String(want)

	for _, c := range candidates {
		if folder.String(c) == folded {
			return c, true
		}
	}

	return "", false
}

// normalizeStrategy: NFKC normalization, lowercasing, and removal of
// whitespace and punctuation.
type normalizeStrategy struct{}

func (normalizeStrategy) Name() string { return "normalized" }

func (normalizeStrategy) Try(want string, candidates []string) (string, bool) {
	norm := normalizeName(want)
	if norm == "" {
		return "", false
	}

	for _, c := range candidates {
		if normalizeName(c) == norm {
			return c, true
		}
	}

	return "", false
}

// pluralStrategy: naive singular/plural variants after normalization.
type pluralStrategy struct{}

func (pluralStrategy) Name() string { return "singular-plural" }

func (pluralStrategy) Try(want string, candidates []string) (string, bool) {
	wantVars := pluralVariants(normalizeName(want))

	for _, c := range candidates {
		cNorm := normalizeName(c)
		for _, v := range wantVars {
			if v != "" && cNorm == v {
				return c, true
			}
		}
	}

	return "", false
}

// synonymStrategy: a small registry of known column-name synonyms.
type synonymStrategy struct{}

func (synonymStrategy) Name() string { return "synonym" }

// synonymGroups lists normalized names that refer to the same column.
var synonymGroups = [][]string{
	{"title", "name"},
	{"description", "notes", "details"},
	{"status", "state"},
	{"priority", "importance"},
	{"due", "duedate", "deadline"},
	{"owner", "assignee", "assignedto"},
	{"url", "link"},
	{"created", "createdtime", "createdat"},
	{"modified", "lastedited", "lasteditedtime", "updatedat"},
}

func (synonymStrategy) Try(want string, candidates []string) (string, bool) {
	wantNorm := normalizeName(want)

	group := synonymsOf(wantNorm)
	if group == nil {
		return "", false
	}

	for _, c := range candidates {
		cNorm := normalizeName(c)
		for _, syn := range group {
			if cNorm == syn {
				return c, true
			}
		}
	}

	return "", false
}

func synonymsOf(normName string) []string {
	for _, group := range synonymGroups {
		for _, member := range group {
			if member == normName {
				return group
			}
		}
	}

	return nil
}

// normalizeName lowercases via case folding and strips whitespace,
// punctuation, and symbols after NFKC normalization.
func normalizeName(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))

	var b strings.Builder

	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// pluralVariants returns the input plus its naive singular/plural forms.
func pluralVariants(s string) []string {
	variants := []string{s}

	switch {
	case strings.HasSuffix(s, "ies"):
		variants = append(variants, strings.TrimSuffix(s, "ies")+"y")
	case strings.HasSuffix(s, "es"):
		variants = append(variants, strings.TrimSuffix(s, "es"), strings.TrimSuffix(s, "s"))
	case strings.HasSuffix(s, "s"):
		variants = append(variants, strings.TrimSuffix(s, "s"))
	}

	switch {
	case strings.HasSuffix(s, "y"):
		variants = append(variants, strings.TrimSuffix(s, "y")+"ies")
	default:
		variants = append(variants, s+"s", s+"es")
	}

	return variants
}
