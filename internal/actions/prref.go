package actions

import (
	"regexp"
	"strconv"
)

// Pull request references, tried in order.
var prPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)github\.com/[^/\s]+/[^/\s]+/pull/(\d+)`),
	regexp.MustCompile(`(?i)\bPR[:\s#]+(\d+)`),
	regexp.MustCompile(`(?i)\bPull Request[:\s#]+(\d+)`),
}

// ExtractPRNumber returns the first pull request number referenced in text.
func ExtractPRNumber(text string) (int, bool) {
	for _, re := range prPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// FindPRInTexts returns the first pull request number found in texts,
// searched in the order given.
func FindPRInTexts(texts ...string) (int, bool) {
	for _, t := range texts {
		if n, ok := ExtractPRNumber(t); ok {
			return n, true
		}
	}
	return 0, false
}
