package login

import "strings"

var positiveWords = []string{
	"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay",
	"correct", "right", "affirmative", "of course",
}

var negativeWords = []string{
	"no", "n", "nope", "nah", "not really", "negative",
}

var cancelWords = []string{
	"cancel", "abort", "quit", "stop", "never mind", "nevermind",
}

// loginCancelWords are the only way out of the username and password
// questions, where a single word like "stop" may be a real answer.
var loginCancelWords = []string{
	"cancel login", "abort login",
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

func matchesAny(s string, words []string) bool {
	n := normalizeAnswer(s)
	for _, w := range words {
		if n == w {
			return true
		}
	}
	return false
}

func isYes(s string) bool { return matchesAny(s, positiveWords) }
func isNo(s string) bool  { return matchesAny(s, negativeWords) }

func isCancel(step Step, s string) bool {
	if matchesAny(s, loginCancelWords) {
		return true
	}
	if step == StepAskUsername || step == StepAskPassword {
		return false
	}
	return matchesAny(s, cancelWords)
}
