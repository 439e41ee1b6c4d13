// Package prompt composes the final prompt text sent to the backend from the
// user prompt and an optional agent profile. Assembly is a pure function of
// its inputs -- the output participates in the request fingerprint.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	gateway "github.com/eugener/radagast/internal"
)

// DefaultMaxLen bounds the assembled prompt length in bytes.
const DefaultMaxLen = 8192

// delimiter separates persona sections; marker separates the persona header
// from the user prompt. Both are fixed: changing them changes backend output
// for profiled requests and requires a schema version bump.
const (
	delimiter = "---"
	marker    = "--- begin message ---"
)

// Assembler renders agent profiles into prompt headers.
type Assembler struct {
	// MaxLen is the assembled length bound; 0 means DefaultMaxLen.
	MaxLen int
}

// Assemble returns the final prompt for a generation request. Without a
// profile the user prompt is returned unchanged. With one, a stable persona
// header is prepended; absent fields are omitted, never defaulted.
func (a *Assembler) Assemble(userPrompt string, p *gateway.AgentProfile) string {
	if p == nil {
		return userPrompt
	}

	maxLen := a.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	identity := fmt.Sprintf("You are %s, a %d-year-old %s.", p.Name, p.Age, p.Occupation)
	personality := personalitySection(p.Personality)
	state := stateSection(p.MentalState)
	context := ""
	if p.Context != "" {
		context = "Context: " + p.Context
	}

	assemble := func(ctxText string, withListings bool) string {
		var b strings.Builder
		b.WriteString(identity)
		if withListings && personality != "" {
			b.WriteString("\n" + delimiter + "\n")
			b.WriteString(personality)
		}
		if withListings && state != "" {
			b.WriteString("\n" + delimiter + "\n")
			b.WriteString(state)
		}
		if ctxText != "" {
			b.WriteString("\n" + delimiter + "\n")
			b.WriteString(ctxText)
		}
		b.WriteString("\n" + marker + "\n")
		b.WriteString(userPrompt)
		return b.String()
	}

	out := assemble(context, true)
	if len(out) <= maxLen {
		return out
	}

	// Over budget: shrink the context first. The cut point backs off to a
	// rune boundary so a multi-byte character is never split.
	overflow := len(out) - maxLen
	if context != "" {
		keep := len(context) - overflow
		for keep > 0 && !utf8.RuneStart(context[keep]) {
			keep--
		}
		if keep > 0 {
			return assemble(context[:keep], true)
		}
		out = assemble("", true)
		if len(out) <= maxLen {
			return out
		}
	}

	// Then drop the trait and state listings. The user prompt is never cut.
	return assemble("", false)
}

// AssembleChat flattens a chat transcript into a single prompt. The persona,
// when present, is rendered as a leading system turn; the final line cues the
// assistant. Rendering is canonical so chat requests fingerprint stably.
func (a *Assembler) AssembleChat(messages []gateway.ChatMessage, p *gateway.AgentProfile) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant:")
	transcript := b.String()

	if p == nil {
		return transcript
	}
	return a.Assemble(transcript, p)
}

// personalitySection lists only the traits actually supplied, in canonical
// Big Five order. Returns "" when none are present.
func personalitySection(t *gateway.PersonalityTraits) string {
	if t.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Personality traits:")
	appendTrait(&b, "Openness", t.Openness)
	appendTrait(&b, "Conscientiousness", t.Conscientiousness)
	appendTrait(&b, "Extraversion", t.Extraversion)
	appendTrait(&b, "Agreeableness", t.Agreeableness)
	appendTrait(&b, "Neuroticism", t.Neuroticism)
	return b.String()
}

// stateSection lists the mental-state fields that are present, in a fixed order.
func stateSection(m *gateway.MentalState) string {
	if m.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current state:")
	appendTrait(&b, "Stress level", m.StressLevel)
	appendTrait(&b, "Life satisfaction", m.LifeSatisfaction)
	if m.CurrentEmotion != "" {
		b.WriteString("\n- Current emotion: " + m.CurrentEmotion)
	}
	appendTrait(&b, "Energy level", m.EnergyLevel)
	return b.String()
}

func appendTrait(b *strings.Builder, label string, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "\n- %s: %.2f", label, *v)
}
