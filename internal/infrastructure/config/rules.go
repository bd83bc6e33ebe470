package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// RewriteRule is one declarative rule from the rules file. Exactly one
// of Selector or XPath names the elements; Attribute names what gets
// rewritten.
type RewriteRule struct {
	Selector  string `yaml:"selector,omitempty"`
	XPath     string `yaml:"xpath,omitempty"`
	Attribute string `yaml:"attribute"`
}

// Rules is the operator-supplied rewrite policy loaded from YAML.
type Rules struct {
	// BlockedDomains is the domain blocklist: plain suffixes or globs.
	BlockedDomains []string `yaml:"blocked_domains"`
	// InjectScripts are script bodies added to every rewritten page.
	InjectScripts []string `yaml:"inject_scripts"`
	// Rewrite are extra attribute rewrite rules.
	Rewrite []RewriteRule `yaml:"rewrite"`
}

// LoadRules reads the rules file. An empty path returns empty rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return &rules, nil
}
