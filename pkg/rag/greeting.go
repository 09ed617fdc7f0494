package rag

import (
	"regexp"
	"strings"
)

// English and Swedish salutations. A message only has to start with one, so
// "hi, what's checkout time?" counts as a greeting too.
var greetingPattern = regexp.MustCompile(
	`(?i)^(?:hi|hello|hey|hej|hejsan|hallå|god\s*(?:morgon|dag|kväll)` +
		`|good\s*(?:morning|afternoon|evening)|howdy|tjena|tja)(?:[\s!?.,]|$)`)

const defaultGreeting = "Hello! Welcome — I'm your hotel assistant. How can I help you today?"

func IsGreeting(message string) bool {
	return greetingPattern.MatchString(strings.TrimSpace(message))
}
