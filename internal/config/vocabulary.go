package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/convoscope/convoscope/internal/engine"
)

// Vocabulary is the YAML-loadable analysis vocabulary: the claim extraction
// rules used by the conflict detector, the attribute patterns used by the
// knowledge synthesizer, and the summary validation weights. Sections left
// empty in the file keep the engine defaults.
type Vocabulary struct {
	ClaimRules        []engine.ClaimRule          `yaml:"claim_rules"`
	AttributePatterns *engine.AttributePatternSet `yaml:"attribute_patterns"`
	ValidationWeights *engine.ValidationWeights   `yaml:"validation_weights"`
}

// DefaultVocabulary returns a vocabulary carrying the engine's built-in
// rule sets.
func DefaultVocabulary() *Vocabulary {
	patterns := engine.DefaultAttributePatterns()
	weights := engine.DefaultValidationWeights()
	return &Vocabulary{
		ClaimRules:        engine.DefaultClaimRules(),
		AttributePatterns: &patterns,
		ValidationWeights: &weights,
	}
}

// LoadVocabulary reads a YAML vocabulary file and fills any omitted section
// with the engine defaults. An empty path returns the defaults outright.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read vocabulary file: %w", err)
	}

	var vocab Vocabulary
	if err := yaml.Unmarshal(raw, &vocab); err != nil {
		return nil, fmt.Errorf("config: failed to parse vocabulary file: %w", err)
	}

	if len(vocab.ClaimRules) == 0 {
		vocab.ClaimRules = engine.DefaultClaimRules()
	}
	if vocab.AttributePatterns == nil {
		patterns := engine.DefaultAttributePatterns()
		vocab.AttributePatterns = &patterns
	}
	if vocab.ValidationWeights == nil {
		weights := engine.DefaultValidationWeights()
		vocab.ValidationWeights = &weights
	}

	return &vocab, nil
}

// EngineOptions converts the vocabulary into engine construction options.
func (v *Vocabulary) EngineOptions() []engine.EngineOption {
	opts := []engine.EngineOption{
		engine.WithClaimRules(v.ClaimRules),
	}
	if v.AttributePatterns != nil {
		opts = append(opts, engine.WithAttributePatterns(*v.AttributePatterns))
	}
	if v.ValidationWeights != nil {
		opts = append(opts, engine.WithValidationWeights(*v.ValidationWeights))
	}
	return opts
}
