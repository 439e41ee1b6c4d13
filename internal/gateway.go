// Package gateway defines domain types and interfaces for the Radagast LLM
// request gateway. This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// --- Decoding defaults ---

// Effective values filled in for absent decoding controls. These participate
// in the fingerprint, so changing any of them requires a schema version bump.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 200
	DefaultTopP          = 0.9
	DefaultTopK          = 40
	DefaultRepeatPenalty = 1.1

	// DefaultMaxTokensCeiling is the server-enforced max_tokens ceiling when
	// the config does not override it.
	DefaultMaxTokensCeiling = 2000
)

// --- Cache policy and status ---

// CachePolicy controls how a request interacts with the response cache.
type CachePolicy string

const (
	CacheUse     CachePolicy = "use"     // read and write (default)
	CacheBypass  CachePolicy = "bypass"  // neither read nor write
	CacheRefresh CachePolicy = "refresh" // ignore hits, always write
)

// Valid reports whether p is a recognized policy. The empty string is valid
// and means CacheUse.
func (p CachePolicy) Valid() bool {
	switch p {
	case "", CacheUse, CacheBypass, CacheRefresh:
		return true
	}
	return false
}

// CacheStatus is reported on every response.
type CacheStatus string

const (
	StatusHit     CacheStatus = "hit"
	StatusMiss    CacheStatus = "miss"
	StatusRefresh CacheStatus = "refresh"
	StatusBypass  CacheStatus = "bypass"
)

// --- Agent profile ---

// PersonalityTraits holds Big Five trait scores in [0,1]. Nil means the trait
// was not supplied; absence is meaningful and is never replaced with a midpoint.
type PersonalityTraits struct {
	Openness          *float64 `json:"openness,omitempty"`
	Conscientiousness *float64 `json:"conscientiousness,omitempty"`
	Extraversion      *float64 `json:"extraversion,omitempty"`
	Agreeableness     *float64 `json:"agreeableness,omitempty"`
	Neuroticism       *float64 `json:"neuroticism,omitempty"`
}

// Empty reports whether no trait is present.
func (p *PersonalityTraits) Empty() bool {
	return p == nil || (p.Openness == nil && p.Conscientiousness == nil &&
		p.Extraversion == nil && p.Agreeableness == nil && p.Neuroticism == nil)
}

// MentalState describes the agent's current condition. Reals are in [0,1];
// nil means absent.
type MentalState struct {
	StressLevel      *float64 `json:"stress_level,omitempty"`
	LifeSatisfaction *float64 `json:"life_satisfaction,omitempty"`
	CurrentEmotion   string   `json:"current_emotion,omitempty"`
	EnergyLevel      *float64 `json:"energy_level,omitempty"`
}

// Empty reports whether no field is present.
func (m *MentalState) Empty() bool {
	return m == nil || (m.StressLevel == nil && m.LifeSatisfaction == nil &&
		m.CurrentEmotion == "" && m.EnergyLevel == nil)
}

// AgentProfile describes the speaker on whose behalf text is generated.
// It participates in both prompt assembly and the request fingerprint.
type AgentProfile struct {
	AgentID     int                `json:"agent_id"`
	Name        string             `json:"name"`
	Age         int                `json:"age"`
	Occupation  string             `json:"occupation"`
	Personality *PersonalityTraits `json:"personality,omitempty"`
	MentalState *MentalState       `json:"mental_state,omitempty"`
	Context     string             `json:"context,omitempty"`
}

// --- Requests ---

// GenerationRequest is a single text generation request. Immutable after
// admission; the pipeline works on a defaulted copy.
type GenerationRequest struct {
	Model         string        `json:"model"`
	Prompt        string        `json:"prompt"`
	Temperature   *float64      `json:"temperature,omitempty"`
	MaxTokens     *int          `json:"max_tokens,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	RepeatPenalty *float64      `json:"repeat_penalty,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
	Seed          *int64        `json:"seed,omitempty"`
	AgentProfile  *AgentProfile `json:"agent_profile,omitempty"`
	CachePolicy   CachePolicy   `json:"cache_policy,omitempty"`
	RequestID     string        `json:"request_id,omitempty"`
}

// WithDefaults returns a copy of r with absent decoding controls replaced by
// their effective values. The receiver is not mutated.
func (r *GenerationRequest) WithDefaults() *GenerationRequest {
	out := *r
	if out.Temperature == nil {
		out.Temperature = ptr(DefaultTemperature)
	}
	if out.MaxTokens == nil {
		out.MaxTokens = ptr(DefaultMaxTokens)
	}
	if out.TopP == nil {
		out.TopP = ptr(DefaultTopP)
	}
	if out.TopK == nil {
		out.TopK = ptr(DefaultTopK)
	}
	if out.RepeatPenalty == nil {
		out.RepeatPenalty = ptr(DefaultRepeatPenalty)
	}
	if out.CachePolicy == "" {
		out.CachePolicy = CacheUse
	}
	return &out
}

// Validate checks the request against the data model constraints.
// maxTokensCeiling <= 0 means the default ceiling.
func (r *GenerationRequest) Validate(maxTokensCeiling int) error {
	if maxTokensCeiling <= 0 {
		maxTokensCeiling = DefaultMaxTokensCeiling
	}
	switch {
	case strings.TrimSpace(r.Model) == "":
		return Errorf(KindValidation, "model is required")
	case r.Prompt == "":
		return Errorf(KindValidation, "prompt must be non-empty")
	case r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2):
		return Errorf(KindValidation, "temperature must be in [0, 2]")
	case r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > maxTokensCeiling):
		return Errorf(KindValidation, "max_tokens must be in [1, %d]", maxTokensCeiling)
	case r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1):
		return Errorf(KindValidation, "top_p must be in [0, 1]")
	case r.TopK != nil && *r.TopK < 1:
		return Errorf(KindValidation, "top_k must be >= 1")
	case r.RepeatPenalty != nil && *r.RepeatPenalty < 0:
		return Errorf(KindValidation, "repeat_penalty must be >= 0")
	case !r.CachePolicy.Valid():
		return Errorf(KindValidation, "cache_policy must be one of use, bypass, refresh")
	}
	if p := r.AgentProfile; p != nil {
		if err := validateProfile(p); err != nil {
			return err
		}
	}
	return nil
}

func validateProfile(p *AgentProfile) error {
	if p.Age < 0 {
		return Errorf(KindValidation, "agent_profile.age must be >= 0")
	}
	for name, v := range map[string]*float64{
		"openness":          traitOrNil(p.Personality, func(t *PersonalityTraits) *float64 { return t.Openness }),
		"conscientiousness": traitOrNil(p.Personality, func(t *PersonalityTraits) *float64 { return t.Conscientiousness }),
		"extraversion":      traitOrNil(p.Personality, func(t *PersonalityTraits) *float64 { return t.Extraversion }),
		"agreeableness":     traitOrNil(p.Personality, func(t *PersonalityTraits) *float64 { return t.Agreeableness }),
		"neuroticism":       traitOrNil(p.Personality, func(t *PersonalityTraits) *float64 { return t.Neuroticism }),
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return Errorf(KindValidation, "agent_profile.personality.%s must be in [0, 1]", name)
		}
	}
	if m := p.MentalState; m != nil {
		if m.StressLevel != nil && (*m.StressLevel < 0 || *m.StressLevel > 1) {
			return Errorf(KindValidation, "agent_profile.mental_state.stress_level must be in [0, 1]")
		}
		if m.LifeSatisfaction != nil && (*m.LifeSatisfaction < 0 || *m.LifeSatisfaction > 1) {
			return Errorf(KindValidation, "agent_profile.mental_state.life_satisfaction must be in [0, 1]")
		}
		if m.EnergyLevel != nil && (*m.EnergyLevel < 0 || *m.EnergyLevel > 1) {
			return Errorf(KindValidation, "agent_profile.mental_state.energy_level must be in [0, 1]")
		}
	}
	return nil
}

func traitOrNil(t *PersonalityTraits, f func(*PersonalityTraits) *float64) *float64 {
	if t == nil {
		return nil
	}
	return f(t)
}

// ChatMessage is a single turn in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request. It is flattened into a
// GenerationRequest before entering the pipeline, so it shares the same
// fingerprint and cache semantics.
type ChatRequest struct {
	Model        string        `json:"model"`
	Messages     []ChatMessage `json:"messages"`
	Temperature  *float64      `json:"temperature,omitempty"`
	MaxTokens    *int          `json:"max_tokens,omitempty"`
	AgentProfile *AgentProfile `json:"agent_profile,omitempty"`
	CachePolicy  CachePolicy   `json:"cache_policy,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
}

// Validate checks chat-specific constraints.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return Errorf(KindValidation, "model is required")
	}
	if len(r.Messages) == 0 {
		return Errorf(KindValidation, "messages must be non-empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return Errorf(KindValidation, "messages[%d].role must be system, user, or assistant", i)
		}
		if m.Content == "" {
			return Errorf(KindValidation, "messages[%d].content must be non-empty", i)
		}
	}
	if !r.CachePolicy.Valid() {
		return Errorf(KindValidation, "cache_policy must be one of use, bypass, refresh")
	}
	return nil
}

// --- Results ---

// Completion is the pipeline's successful outcome for one request.
type Completion struct {
	Response         string      `json:"response"`
	Model            string      `json:"model"`
	CacheStatus      CacheStatus `json:"cache_status"`
	LatencyMs        int64       `json:"latency_ms"`
	PromptTokens     *int        `json:"prompt_tokens,omitempty"`
	CompletionTokens *int        `json:"completion_tokens,omitempty"`
	RequestID        string      `json:"request_id,omitempty"`
}

// UsageRecord is a single accounting event, emitted after every pipeline
// invocation (success or failure).
type UsageRecord struct {
	ID               string    `json:"id"`
	KeyID            string    `json:"key_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CacheStatus      string    `json:"cache_status"`
	Outcome          string    `json:"outcome"` // "ok" or the error kind
	LatencyMs        int64     `json:"latency_ms"`
	RequestID        string    `json:"request_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// --- Identity ---

// Identity is the admitted caller attached to request context. KeyID is the
// quota identity used for rate-limit bucketing.
type Identity struct {
	KeyID string
	Name  string
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

func ptr[T any](v T) *T { return &v }
