// Package tokencount estimates token counts when the backend omits them.
// Uses a character-based heuristic (~4 chars per token for English), which is
// sufficient for usage accounting and metrics.
package tokencount

// Estimate returns the approximate token count of a plain text string.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	// ~4 bytes per token for English; ceil division.
	return max((len(text)+3)/4, 1)
}

// Fill replaces nil token counts with estimates derived from the prompt and
// response text. It reports whether any count was estimated rather than
// backend-reported.
func Fill(promptTokens, completionTokens **int, prompt, response string) bool {
	estimated := false
	if *promptTokens == nil {
		n := Estimate(prompt)
		*promptTokens = &n
		estimated = true
	}
	if *completionTokens == nil {
		n := Estimate(response)
		*completionTokens = &n
		estimated = true
	}
	return estimated
}
