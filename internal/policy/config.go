package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Rule controls how often, and under what approval conditions, an
// operation may execute.
type Rule struct {
	// MaxExecutionsPerHour caps executions in a rolling hour. Zero
	// disables the operation entirely. Nil means no rate limit.
	MaxExecutionsPerHour *int `koanf:"max_executions_per_hour" json:"max_executions_per_hour,omitempty"`

	// Escalate requires the operation to be explicitly pre-approved.
	Escalate bool `koanf:"escalate" json:"escalate,omitempty"`
}

// Config is a parsed policy document. Immutable for the process lifetime;
// changing the document requires a restart.
type Config struct {
	Operations map[string]Rule `koanf:"operations" json:"operations"`
	Defaults   *Rule           `koanf:"defaults" json:"defaults,omitempty"`
}

// LoadConfig parses a policy document from disk. YAML and JSON are both
// accepted (JSON is a YAML subset). Operation keys are lowercased at load
// so matching is case-insensitive.
func LoadConfig(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading document %s: %w", path, err)
	}
	return ParseConfig(content)
}

// ParseConfig parses raw policy document bytes.
func ParseConfig(content []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("policy: parsing document: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("policy: decoding document: expected {operations: {<key>: {max_executions_per_hour?, escalate?}}, defaults?}: %w", err)
	}

	normalized := make(map[string]Rule, len(cfg.Operations))
	for key, rule := range cfg.Operations {
		if err := validateRule(key, rule); err != nil {
			return nil, err
		}
		normalized[strings.ToLower(strings.TrimSpace(key))] = rule
	}
	cfg.Operations = normalized

	if cfg.Defaults != nil {
		if err := validateRule("defaults", *cfg.Defaults); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func validateRule(key string, rule Rule) error {
	if rule.MaxExecutionsPerHour != nil && *rule.MaxExecutionsPerHour < 0 {
		return fmt.Errorf("policy: operations.%s.max_executions_per_hour must be >= 0, got %d", key, *rule.MaxExecutionsPerHour)
	}
	return nil
}
