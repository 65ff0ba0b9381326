package safety

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Pattern is a named credential shape. Confirm, when set, must also accept
// the matched substring for the pattern to fire.
type Pattern struct {
	Name    string
	re      *regexp.Regexp
	confirm func(match string) bool
}

var (
	reAWSAccessKey  = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	reAWSSecretKey  = regexp.MustCompile(`(?i)aws_?secret_?access_?key["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`)
	rePrivateKey    = regexp.MustCompile(`-----BEGIN (?:[A-Z0-9]+ )*PRIVATE KEY-----`)
	reGitHubToken   = regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr|ghu)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{22,255}\b`)
	reSlackToken    = regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}`)
	reAnthropicKey  = regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}`)
	reOpenAIKey     = regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`)
	reGoogleAPIKey  = regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`)
	reAtlassianKey  = regexp.MustCompile(`\bATATT[A-Za-z0-9_=-]{20,}`)
	reJWT           = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{10,}`)
	reGenericSecret = regexp.MustCompile(`(?i)(?:password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key)["']?\s*[:=]\s*(?:"[^"\s$<{][^"\s]{7,}"|'[^'\s$<{][^'\s]{7,}'|[^\s"'$<{][^\s"']{7,})`)
)

// builtinPatterns returns the fixed credential shapes in evaluation order.
// The more specific sk-ant- prefix is checked before the generic sk- one.
func builtinPatterns() []Pattern {
	return []Pattern{
		{Name: "aws_access_key", re: reAWSAccessKey},
		{Name: "aws_secret_key", re: reAWSSecretKey},
		{Name: "private_key", re: rePrivateKey},
		{Name: "github_token", re: reGitHubToken},
		{Name: "slack_token", re: reSlackToken},
		{Name: "anthropic_key", re: reAnthropicKey},
		{Name: "openai_key", re: reOpenAIKey},
		{Name: "google_api_key", re: reGoogleAPIKey},
		{Name: "atlassian_token", re: reAtlassianKey},
		{Name: "jwt", re: reJWT, confirm: isJWT},
		{Name: "generic_secret", re: reGenericSecret},
	}
}

// PatternNames lists the built-in pattern labels in evaluation order.
func PatternNames() []string {
	patterns := builtinPatterns()
	names := make([]string, len(patterns))
	for i, p := range patterns {
		names[i] = p.Name
	}
	return names
}

// matchPattern returns the name of the first pattern, in list order, that
// fires anywhere in text.
func matchPattern(patterns []Pattern, text string) (string, bool) {
	for _, p := range patterns {
		if p.confirm == nil {
			if p.re.MatchString(text) {
				return p.Name, true
			}
			continue
		}
		for _, m := range p.re.FindAllString(text, -1) {
			if p.confirm(m) {
				return p.Name, true
			}
		}
	}
	return "", false
}

// isJWT reports whether s has the shape of a signed token: header and claims
// segments that decode to JSON objects. Neither the algorithm nor the
// signature is checked.
func isJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	p := jwt.NewParser()
	for _, seg := range parts[:2] {
		raw, err := p.DecodeSegment(seg)
		if err != nil {
			return false
		}
		var obj map[string]any
		if json.Unmarshal(raw, &obj) != nil {
			return false
		}
	}
	return true
}
