package policy

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only policy file version understood.
const SupportedVersion = 1

// ErrUnsupportedVersion is returned for policy files whose version is not
// SupportedVersion.
var ErrUnsupportedVersion = errors.New("unsupported policy version")

// LoadPolicy reads the policy file at path.
func LoadPolicy(path string) (*PolicyConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses one policy document. Unknown keys are an error, and the
// section maps of the result are never nil.
func Decode(r io.Reader) (*PolicyConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg PolicyConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty policy document")
		}
		return nil, fmt.Errorf("parse: %w", err)
	}
	if cfg.Version != SupportedVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, cfg.Version)
	}

	if cfg.Domains == nil {
		cfg.Domains = make(map[string]DomainConfig)
	}
	if cfg.Rules == nil {
		cfg.Rules = make(map[string]RuleConfig)
	}
	if cfg.Enforcement == nil {
		cfg.Enforcement = make(map[string]EnforcementConfig)
	}
	return &cfg, nil
}
