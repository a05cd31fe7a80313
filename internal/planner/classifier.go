package planner

import (
	"regexp"
	"strings"
)

type conversationalPattern struct {
	re    *regexp.Regexp
	reply string
}

// Checked in order; the first match wins.
var conversationalPatterns = []conversationalPattern{
	{
		re:    regexp.MustCompile(`^(hi|hello|hey|good morning|good afternoon|good evening|what's up|howdy)\b`),
		reply: "Hello! How can I help you today?",
	},
	{
		re:    regexp.MustCompile(`^(how are you|how's it going|how do you do|how are things|what's new)\b`),
		reply: "I'm doing well, thanks for asking! How can I assist you?",
	},
	{
		re:    regexp.MustCompile(`^(thanks|thank you|thx|ty|appreciate it)\b`),
		reply: "You're welcome! Is there anything else you'd like to know?",
	},
	{
		re:    regexp.MustCompile(`^(bye|goodbye|see you|farewell|see ya|later)\b`),
		reply: "Goodbye! Feel free to ask if you need anything else.",
	},
}

// Conversational returns a canned reply for small talk that needs no
// retrieval. Matching is on whole leading words, so "history of the launch"
// is not a greeting.
func Conversational(query string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}
	for _, p := range conversationalPatterns {
		if p.re.MatchString(q) {
			return p.reply, true
		}
	}
	return "", false
}
