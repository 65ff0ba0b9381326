package safety

import "math"

// Defaults for the entropy detector.
const (
	DefaultMinRunLength     = 40
	DefaultEntropyThreshold = 4.5
)

// inTokenCharset reports whether c can be part of a token-like run.
func inTokenCharset(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/', c == '=', c == '_', c == '-':
		return true
	}
	return false
}

// Entropy returns the Shannon entropy of s in bits per character.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// highEntropyRun returns the first run of at least minRun token characters
// whose entropy exceeds threshold.
func highEntropyRun(text string, minRun int, threshold float64) (string, bool) {
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && inTokenCharset(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			run := text[start:i]
			start = -1
			if len(run) >= minRun && Entropy(run) > threshold {
				return run, true
			}
		}
	}
	return "", false
}
