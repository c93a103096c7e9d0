package automation

import "strings"

// Classifier decides whether a submission error is a sequence conflict by
// substring match on the node's error message.
type Classifier struct {
	patterns []string
}

// NewClassifier lower-cases and stores the patterns.
func NewClassifier(patterns []string) Classifier {
	c := Classifier{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.patterns = append(c.patterns, p)
		}
	}
	return c
}

// IsConflict reports whether err matches a known conflict message.
func (c Classifier) IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range c.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
