package rules

import (
	"fmt"
	"regexp"
	"strings"

	"nbgrade/internal/notebook"
)

// Predicate tests one corpus. It returns a failure message when it does not pass.
// It never panics or errors: no match is simply false.
type Predicate func(text string) (passed bool, message string)

// Check is a compiled, named predicate bound to one corpus.
type Check struct {
	Name        string
	Description string
	Corpus      notebook.Corpus
	Predicate   Predicate
}

// Run evaluates the check against the corpora.
func (c Check) Run(corpora notebook.Corpora) (bool, string) {
	return c.Predicate(corpora.Text(c.Corpus))
}

func literalAll(items []string, message string) (Predicate, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("literal-all needs at least one item")
	}
	items = append([]string(nil), items...)
	return func(text string) (bool, string) {
		for _, item := range items {
			if !strings.Contains(text, item) {
				return false, strings.ReplaceAll(message, "{item}", item)
			}
		}
		return true, ""
	}, nil
}

func regexAny(patterns []string, message string) (Predicate, error) {
	res, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	return func(text string) (bool, string) {
		if matchAny(res, text) {
			return true, ""
		}
		return false, message
	}, nil
}

func regexGroups(groups []GroupSpec, message string) (Predicate, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("regex-groups needs at least one group")
	}

	type group struct {
		res     []*regexp.Regexp
		message string
	}
	compiled := make([]group, 0, len(groups))
	for i, g := range groups {
		res, err := compileAll(g.Patterns)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		msg := g.Message
		if msg == "" {
			msg = message
		}
		compiled = append(compiled, group{res: res, message: msg})
	}

	return func(text string) (bool, string) {
		for _, g := range compiled {
			if !matchAny(g.res, text) {
				return false, g.message
			}
		}
		return true, ""
	}, nil
}

func regexCount(patterns []string, min int, message string) (Predicate, error) {
	if min < 1 {
		return nil, fmt.Errorf("regex-count needs min >= 1, got %d", min)
	}
	res, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	return func(text string) (bool, string) {
		if CountMatches(res, text) >= min {
			return true, ""
		}
		return false, message
	}, nil
}

// CountMatches sums non-overlapping matches of every pattern.
func CountMatches(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(unicodeWords(p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// unicodeWords widens \w and \W to Unicode letters and digits, so word
// classes match identifiers such as "données" the way Python's re does.
func unicodeWords(pattern string) string {
	const word = `\p{L}\p{N}_`

	var b strings.Builder
	inClass := false
	classStart := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			next := pattern[i+1]
			i++
			switch {
			case next == 'w' && inClass:
				b.WriteString(word)
			case next == 'w':
				b.WriteString("[" + word + "]")
			case next == 'W' && !inClass:
				b.WriteString("[^" + word + "]")
			default:
				b.WriteByte(c)
				b.WriteByte(next)
			}
			continue
		case c == '[' && !inClass:
			inClass = true
			classStart = b.Len() + 1
		case c == '^' && inClass && b.Len() == classStart:
			classStart++
		case c == ']' && inClass && b.Len() > classStart:
			inClass = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
