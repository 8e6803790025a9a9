package bugreport

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule rewrites dynamic tokens in a failure message before fingerprinting.
type Rule struct {
	Pattern *regexp.Regexp
	Replace string
}

// RuleSpec is the configuration form of a Rule.
type RuleSpec struct {
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

var defaultRuleSpecs = []RuleSpec{
	{Pattern: `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`, Replace: "<uuid>"},
	{Pattern: `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`, Replace: "<ts>"},
	{Pattern: `\b0x[0-9a-fA-F]+\b`, Replace: "<hex>"},
	{Pattern: `\b[0-9a-fA-F]{12,}\b`, Replace: "<hex>"},
	{Pattern: `\b\d+(\.\d+)?(ns|us|µs|ms|s|m|h)\b`, Replace: "<dur>"},
	{Pattern: `\b\d{4,}\b`, Replace: "<n>"},
}

// DefaultRules strips UUIDs, timestamps, hex ids, durations and numbers of
// four or more digits.
func DefaultRules() []Rule {
	rules, err := CompileRules(defaultRuleSpecs)
	if err != nil {
		panic(err)
	}
	return rules
}

// DefaultRuleSpecs returns the default rules in configuration form.
func DefaultRuleSpecs() []RuleSpec {
	return append([]RuleSpec(nil), defaultRuleSpecs...)
}

// CompileRules compiles rule specs in order.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("normalization rule %d: %w", i+1, err)
		}
		rules = append(rules, Rule{Pattern: re, Replace: s.Replace})
	}
	return rules, nil
}

// Normalize applies rules in order, lower-cases the result and collapses
// whitespace.
func Normalize(message string, rules []Rule) string {
	for _, r := range rules {
		message = r.Pattern.ReplaceAllString(message, r.Replace)
	}
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}
