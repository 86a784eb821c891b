// Package rules holds the check registry and the evaluator that scores a
// notebook's code and narrative corpora against it.
//
// Checks are data: a registry YAML names each check, the corpus it reads, a
// predicate kind and its parameters. Compile turns that into a flat list of
// Check descriptors that the evaluator iterates in order.
package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nbgrade/internal/notebook"
)

//go:embed default_checks.yaml
var defaultRegistryYAML []byte

// Kind names a predicate family.
type Kind string

const (
	// KindLiteralAll passes when every item appears verbatim.
	KindLiteralAll Kind = "literal-all"
	// KindRegexAny passes when at least one pattern matches.
	KindRegexAny Kind = "regex-any"
	// KindRegexGroups passes when every group has at least one matching pattern.
	KindRegexGroups Kind = "regex-groups"
	// KindRegexCount passes when total matches across patterns reach Min.
	KindRegexCount Kind = "regex-count"
)

// Registry is the on-disk check list.
type Registry struct {
	Version int         `yaml:"version"`
	Checks  []CheckSpec `yaml:"checks"`
}

// CheckSpec declares a single check.
type CheckSpec struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Corpus      notebook.Corpus `yaml:"corpus"`
	Kind        Kind            `yaml:"kind"`
	Items       []string        `yaml:"items,omitempty"`
	Patterns    []string        `yaml:"patterns,omitempty"`
	Groups      []GroupSpec     `yaml:"groups,omitempty"`
	Min         int             `yaml:"min,omitempty"`
	// Message explains a failure. literal-all replaces {item} with the first missing item.
	Message string `yaml:"message,omitempty"`
}

// GroupSpec is one conjunct of a regex-groups check.
type GroupSpec struct {
	Patterns []string `yaml:"patterns"`
	Message  string   `yaml:"message,omitempty"`
}

// RegistryError reports an invalid registry entry.
type RegistryError struct {
	Check string
	Err   error
}

func (e *RegistryError) Error() string {
	if e.Check == "" {
		return fmt.Sprintf("check registry: %v", e.Err)
	}
	return fmt.Sprintf("check registry: %s: %v", e.Check, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// DefaultRegistryYAML returns the embedded default registry source.
func DefaultRegistryYAML() []byte {
	out := make([]byte, len(defaultRegistryYAML))
	copy(out, defaultRegistryYAML)
	return out
}

// DefaultRegistry returns the embedded climate EDA registry.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultRegistryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded check registry is invalid: %v", err))
	}
	return r
}

// LoadRegistry reads a registry YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RegistryError{Err: err}
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, &RegistryError{Err: fmt.Errorf("failed to parse registry YAML: %w", err)}
	}
	return &r, nil
}

// Compile validates every check and builds the check list in declaration order.
func (r *Registry) Compile() ([]Check, error) {
	checks := make([]Check, 0, len(r.Checks))
	seen := make(map[string]bool, len(r.Checks))

	for _, spec := range r.Checks {
		if spec.Name == "" {
			return nil, &RegistryError{Err: fmt.Errorf("check without a name")}
		}
		if seen[spec.Name] {
			return nil, &RegistryError{Check: spec.Name, Err: fmt.Errorf("duplicate check name")}
		}
		seen[spec.Name] = true

		c, err := compileSpec(spec)
		if err != nil {
			return nil, &RegistryError{Check: spec.Name, Err: err}
		}
		checks = append(checks, c)
	}
	return checks, nil
}

// DefaultChecks compiles the embedded registry.
func DefaultChecks() []Check {
	checks, err := DefaultRegistry().Compile()
	if err != nil {
		panic(fmt.Sprintf("embedded check registry does not compile: %v", err))
	}
	return checks
}

func compileSpec(spec CheckSpec) (Check, error) {
	switch spec.Corpus {
	case notebook.CorpusCode, notebook.CorpusNarrative:
	default:
		return Check{}, fmt.Errorf("unknown corpus %q", spec.Corpus)
	}

	message := spec.Message
	if message == "" {
		message = fmt.Sprintf("check %s failed", spec.Name)
	}

	var (
		pred Predicate
		err  error
	)
	switch spec.Kind {
	case KindLiteralAll:
		pred, err = literalAll(spec.Items, message)
	case KindRegexAny:
		pred, err = regexAny(spec.Patterns, message)
	case KindRegexGroups:
		pred, err = regexGroups(spec.Groups, message)
	case KindRegexCount:
		pred, err = regexCount(spec.Patterns, spec.Min, message)
	default:
		return Check{}, fmt.Errorf("unknown kind %q", spec.Kind)
	}
	if err != nil {
		return Check{}, err
	}

	return Check{
		Name:        spec.Name,
		Description: spec.Description,
		Corpus:      spec.Corpus,
		Predicate:   pred,
	}, nil
}
