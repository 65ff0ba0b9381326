// Package safety screens generated text for credentials before it is
// written anywhere outside the process.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/alekspetrov/alm/internal/logging"
)

// Reason tags carried by a blocked Verdict.
const (
	ReasonCredentialPrefix = "credential_detected:"
	ReasonHighEntropy      = "high_entropy_string"
	ReasonValidatorError   = "validator_error"
)

// Verdict is the result of screening one piece of text.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Passed reports whether the text may be published.
func (v Verdict) Passed() bool {
	return !v.Blocked
}

func (v Verdict) String() string {
	if !v.Blocked {
		return "pass"
	}
	return "blocked: " + v.Reason
}

func pass() Verdict { return Verdict{} }

func blocked(reason string) Verdict {
	return Verdict{Blocked: true, Reason: reason}
}

// PatternConfig is a user-supplied credential pattern.
type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Config tunes the gate. Zero values fall back to the defaults.
type Config struct {
	ExtraPatterns    []PatternConfig `yaml:"extra_patterns"`
	EntropyThreshold float64         `yaml:"entropy_threshold"`
	MinRunLength     int             `yaml:"min_run_length"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() *Config {
	return &Config{
		EntropyThreshold: DefaultEntropyThreshold,
		MinRunLength:     DefaultMinRunLength,
	}
}

// detector inspects text and returns a reason when it fires.
type detector func(text string) (reason string, fired bool)

// Gate runs its detectors in order and stops at the first that fires.
// Any match is a hard block; there are no severity tiers.
type Gate struct {
	detectors []detector
	log       *slog.Logger
}

// NewGate builds a gate from cfg. A nil cfg uses DefaultConfig. An extra
// pattern that does not compile is returned as an error.
func NewGate(cfg *Config) (*Gate, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	patterns := builtinPatterns()
	for _, pc := range cfg.ExtraPatterns {
		if pc.Name == "" {
			return nil, fmt.Errorf("extra pattern %q has no name", pc.Regex)
		}
		re, err := regexp.Compile(pc.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra pattern %s: %w", pc.Name, err)
		}
		patterns = append(patterns, Pattern{Name: pc.Name, re: re})
	}

	threshold := cfg.EntropyThreshold
	if threshold <= 0 {
		threshold = DefaultEntropyThreshold
	}
	minRun := cfg.MinRunLength
	if minRun <= 0 {
		minRun = DefaultMinRunLength
	}

	return &Gate{
		detectors: []detector{
			patternDetector(patterns),
			entropyDetector(minRun, threshold),
		},
		log: logging.WithComponent("safety"),
	}, nil
}

// Validate screens text. A detector that panics blocks the text rather than
// letting it through.
func (g *Gate) Validate(text string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Validator failed, blocking output", slog.Any("panic", r))
			v = blocked(ReasonValidatorError)
		}
	}()

	for _, d := range g.detectors {
		if reason, fired := d(text); fired {
			g.log.Warn("Output blocked", slog.String("reason", reason), slog.Int("length", len(text)))
			return blocked(reason)
		}
	}
	return pass()
}

func patternDetector(patterns []Pattern) detector {
	return func(text string) (string, bool) {
		if name, ok := matchPattern(patterns, text); ok {
			return ReasonCredentialPrefix + name, true
		}
		return "", false
	}
}

func entropyDetector(minRun int, threshold float64) detector {
	return func(text string) (string, bool) {
		if _, ok := highEntropyRun(text, minRun, threshold); ok {
			return ReasonHighEntropy, true
		}
		return "", false
	}
}
