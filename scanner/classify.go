package scanner

import (
	"strings"

	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/types"
)

// Classifier decides a record's environment deterministically:
// explicit tag match first, then name-pattern heuristics, then the
// configured default. Production patterns are checked before
// non-production ones, so a name matching both classifies as
// production (the stricter class).
type Classifier struct {
	cfg config.Classification
}

// NewClassifier creates a classifier from configuration.
func NewClassifier(cfg config.Classification) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the environment for an instance name and tag set.
func (c *Classifier) Classify(name string, tags map[string]string) types.Environment {
	if env, ok := c.classifyByTag(tags); ok {
		return env
	}
	if env, ok := c.classifyByPattern(name); ok {
		return env
	}
	return c.cfg.Default
}

// classifyByTag checks the configured tag key variants in order. Only
// a recognized value counts as a match; unrecognized values fall
// through to pattern matching.
func (c *Classifier) classifyByTag(tags map[string]string) (types.Environment, bool) {
	for _, key := range c.cfg.TagKeys {
		value, ok := tags[key]
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "prod", "production", "prd", "live":
			return types.EnvProduction, true
		case "dev", "development", "test", "testing", "stage", "staging", "qa", "sandbox", "nonprod", "non-prod", "non-production":
			return types.EnvNonProduction, true
		}
	}
	return types.EnvUnknown, false
}

// classifyByPattern matches name prefixes. Within a class the longest
// matching pattern wins; the production class is decided first.
func (c *Classifier) classifyByPattern(name string) (types.Environment, bool) {
	lower := strings.ToLower(name)
	if matchesAnyPrefix(lower, c.cfg.ProductionPatterns) {
		return types.EnvProduction, true
	}
	if matchesAnyPrefix(lower, c.cfg.NonProductionPatterns) {
		return types.EnvNonProduction, true
	}
	return types.EnvUnknown, false
}

func matchesAnyPrefix(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.HasPrefix(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
