package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	gateway "github.com/eugener/radagast/internal"
)

func f64(v float64) *float64 { return &v }

func fullProfile() *gateway.AgentProfile {
	return &gateway.AgentProfile{
		AgentID:    7,
		Name:       "Maya",
		Age:        29,
		Occupation: "nurse",
		Personality: &gateway.PersonalityTraits{
			Openness:      f64(0.8),
			Agreeableness: f64(0.6),
		},
		MentalState: &gateway.MentalState{
			StressLevel:    f64(0.3),
			CurrentEmotion: "calm",
		},
		Context: "Just finished a night shift.",
	}
}

func TestNoProfilePassthrough(t *testing.T) {
	t.Parallel()
	var a Assembler
	if got := a.Assemble("hello", nil); got != "hello" {
		t.Errorf("expected unchanged prompt, got %q", got)
	}
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	var a Assembler
	p := fullProfile()
	if a.Assemble("hello", p) != a.Assemble("hello", p) {
		t.Error("assembly must be deterministic")
	}
}

func TestHeaderStructure(t *testing.T) {
	t.Parallel()
	var a Assembler
	out := a.Assemble("say hi", fullProfile())

	if !strings.HasPrefix(out, "You are Maya, a 29-year-old nurse.") {
		t.Errorf("missing identity line: %q", out)
	}
	for _, want := range []string{
		"Personality traits:",
		"- Openness: 0.80",
		"- Agreeableness: 0.60",
		"Current state:",
		"- Stress level: 0.30",
		"- Current emotion: calm",
		"Context: Just finished a night shift.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, marker+"\nsay hi") {
		t.Errorf("user prompt should follow the marker line: %q", out)
	}
}

func TestAbsentFieldsOmitted(t *testing.T) {
	t.Parallel()
	var a Assembler
	p := &gateway.AgentProfile{
		Name: "Maya", Age: 29, Occupation: "nurse",
		Personality: &gateway.PersonalityTraits{Openness: f64(0.8)},
	}
	out := a.Assemble("hi", p)

	for _, absent := range []string{"Conscientiousness", "Extraversion", "Neuroticism", "Current state:", "Context:"} {
		if strings.Contains(out, absent) {
			t.Errorf("absent field %q should be omitted:\n%s", absent, out)
		}
	}
	// No synthesized defaults.
	if strings.Contains(out, "0.50") {
		t.Errorf("no midpoint default should appear:\n%s", out)
	}
}

func TestTraitOrderCanonical(t *testing.T) {
	t.Parallel()
	var a Assembler
	p := &gateway.AgentProfile{
		Name: "Maya",
		Personality: &gateway.PersonalityTraits{
			Neuroticism: f64(0.2),
			Openness:    f64(0.9),
		},
	}
	out := a.Assemble("hi", p)
	if strings.Index(out, "Openness") > strings.Index(out, "Neuroticism") {
		t.Error("traits must appear in canonical Big Five order")
	}
}

func TestTruncationOrder(t *testing.T) {
	t.Parallel()
	a := Assembler{MaxLen: 400}
	p := fullProfile()
	p.Context = strings.Repeat("long situation. ", 100)
	userPrompt := "what do you say?"

	out := a.Assemble(userPrompt, p)
	if len(out) > 400 {
		t.Errorf("assembled length %d exceeds bound", len(out))
	}
	if !strings.HasSuffix(out, userPrompt) {
		t.Error("user prompt must never be truncated")
	}
	if !strings.Contains(out, "Personality traits:") {
		t.Error("listings should survive while context alone absorbs the cut")
	}
}

func TestTruncationKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	a := Assembler{MaxLen: 400}
	p := fullProfile()
	p.Context = strings.Repeat("€", 100)
	userPrompt := "say hi"

	out := a.Assemble(userPrompt, p)
	if len(out) > 400 {
		t.Errorf("assembled length %d exceeds bound", len(out))
	}
	if !strings.Contains(out, "Context:") {
		t.Fatal("context should survive in shortened form")
	}
	if !utf8.ValidString(out) {
		t.Errorf("truncation split a multi-byte rune:\n%q", out)
	}
	if !strings.HasSuffix(out, userPrompt) {
		t.Error("user prompt must never be truncated")
	}
}

func TestTruncationDropsListingsLast(t *testing.T) {
	t.Parallel()
	a := Assembler{MaxLen: 120}
	p := fullProfile()
	p.Context = strings.Repeat("x", 500)
	userPrompt := "short question"

	out := a.Assemble(userPrompt, p)
	if strings.Contains(out, "Context:") {
		t.Error("context should be dropped before listings")
	}
	if !strings.HasSuffix(out, userPrompt) {
		t.Error("user prompt must never be truncated")
	}
}

func TestAssembleChat(t *testing.T) {
	t.Parallel()
	var a Assembler
	msgs := []gateway.ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "how are you?"},
	}

	out := a.AssembleChat(msgs, nil)
	want := "user: hello\nassistant: hi\nuser: how are you?\nassistant:"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}

	withProfile := a.AssembleChat(msgs, fullProfile())
	if !strings.HasPrefix(withProfile, "You are Maya") {
		t.Error("profile should render as a leading persona header")
	}
	if !strings.HasSuffix(withProfile, "assistant:") {
		t.Error("transcript should end with the assistant cue")
	}
}
