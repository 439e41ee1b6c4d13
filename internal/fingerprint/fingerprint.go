// Package fingerprint canonicalizes generation requests into deterministic
// 256-bit cache keys. Any change to the serialization here requires a schema
// version bump so stale cache entries age out under the old prefix.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	gateway "github.com/eugener/radagast/internal"
)

// SchemaVersion is the current serialization version. It is both the first
// byte of the hashed payload and the cache key prefix.
const SchemaVersion uint8 = 1

// Fingerprint is a SHA-256 digest over the canonical request serialization.
type Fingerprint [sha256.Size]byte

// Hex returns the lowercase hex digest.
func (f Fingerprint) Hex() string { return hex.EncodeToString(f[:]) }

// Key returns the cache key: the hex digest prefixed with the schema version
// tag, e.g. "v1:ab12...".
func (f Fingerprint) Key(version uint8) string {
	return fmt.Sprintf("v%d:%s", version, f.Hex())
}

// New computes the fingerprint of a request under the given schema version.
// Defaults are applied first so that an explicit value equal to its default
// fingerprints identically to an absent one. request_id and cache_policy are
// excluded: they do not influence generation.
func New(req *gateway.GenerationRequest, version uint8) Fingerprint {
	r := req.WithDefaults()

	var w writer
	w.byte(version)
	w.string(r.Model)
	w.string(r.Prompt)

	// Decoding controls in fixed order, reals quantized to 6 decimals.
	w.real(*r.Temperature)
	w.real(*r.TopP)
	w.int(int64(*r.TopK))
	w.real(*r.RepeatPenalty)
	w.int(int64(*r.MaxTokens))

	w.int(int64(len(r.Stop)))
	for _, s := range r.Stop {
		w.string(s)
	}

	if r.Seed != nil {
		w.byte(1)
		w.int(*r.Seed)
	} else {
		w.byte(0)
	}

	writeProfile(&w, r.AgentProfile)

	return sha256.Sum256(w.buf)
}

// writeProfile emits the canonical profile serialization: identity fields,
// then personality traits and mental-state fields each in a fixed order with
// explicit presence markers. Absent is serialized as absent, never as 0.5.
func writeProfile(w *writer, p *gateway.AgentProfile) {
	if p == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	w.int(int64(p.AgentID))
	w.string(p.Name)
	w.int(int64(p.Age))
	w.string(p.Occupation)

	traits := [...]*float64{nil, nil, nil, nil, nil}
	if t := p.Personality; t != nil {
		traits = [...]*float64{t.Openness, t.Conscientiousness, t.Extraversion, t.Agreeableness, t.Neuroticism}
	}
	for _, v := range traits {
		w.optReal(v)
	}

	var stress, satisfaction, energy *float64
	var emotion string
	if m := p.MentalState; m != nil {
		stress, satisfaction, energy = m.StressLevel, m.LifeSatisfaction, m.EnergyLevel
		emotion = m.CurrentEmotion
	}
	w.optReal(stress)
	w.optReal(satisfaction)
	w.string(emotion)
	w.optReal(energy)

	w.string(p.Context)
}

// writer accumulates the canonical byte sequence. Strings are length-prefixed
// so adjacent fields can never alias ("ab"+"c" vs "a"+"bc").
type writer struct {
	buf []byte
}

func (w *writer) byte(b uint8) { w.buf = append(w.buf, b) }

func (w *writer) string(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) int(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

// real quantizes to 6 decimal places before serializing, so float
// representation drift (0.1+0.2 style) cannot split cache keys.
func (w *writer) real(v float64) {
	q := math.Round(v*1e6) / 1e6
	w.string(strconv.FormatFloat(q, 'f', 6, 64))
}

func (w *writer) optReal(v *float64) {
	if v == nil {
		w.byte(0)
		return
	}
	w.byte(1)
	w.real(*v)
}
