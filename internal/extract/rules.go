package extract

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a custom rule table:
//
//	rules:
//	  - type: rehearsal
//	    patterns:
//	      - 'репетиці'
//	      - '(?:^|[^\p{L}])probe(?:$|[^\p{L}])'
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

// LoadRules reads a YAML rule table from path. Patterns are Go regular
// expressions matched against lowercased message text; authors of Cyrillic
// triggers should spell out boundaries instead of relying on \b.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	var rules []Rule
	for _, spec := range file.Rules {
		if spec.Type == "" {
			return nil, fmt.Errorf("rule with empty type in %s", path)
		}
		if len(spec.Patterns) == 0 {
			return nil, fmt.Errorf("rule %q has no patterns", spec.Type)
		}
		r := Rule{FactType: spec.Type}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q for rule %q: %w", p, spec.Type, err)
			}
			r.patterns = append(r.patterns, re)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
