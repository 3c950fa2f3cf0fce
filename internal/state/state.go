package state

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Context is the caller-supplied view of the user. Every field is optional;
// nil means "not observed" and the encoder substitutes a neutral default.
type Context struct {
	Frustration     *float64 `json:"frustration,omitempty"`
	Engagement      *float64 `json:"engagement,omitempty"`
	Complexity      *float64 `json:"complexity,omitempty"`
	TimeOfDay       *float64 `json:"timeOfDay,omitempty"`
	SessionDuration *float64 `json:"sessionDuration,omitempty"`
}

// Features is the full-precision encoding of a Context.
type Features struct {
	Frustration     float64 `json:"frustration"`
	Engagement      float64 `json:"engagement"`
	Complexity      float64 `json:"complexity"`
	TimeOfDay       float64 `json:"time_of_day"`
	SessionDuration float64 `json:"session_duration"`
}

// Values returns the features in key order.
func (f Features) Values() []float64 {
	return []float64{f.Frustration, f.Engagement, f.Complexity, f.TimeOfDay, f.SessionDuration}
}

// State pairs the full-precision features with their discretized lookup key.
type State struct {
	Features Features `json:"features"`
	Key      string   `json:"key"`
}

// Neutral defaults for absent context fields.
const (
	DefaultFrustration     = 0.0
	DefaultEngagement      = 1.0
	DefaultComplexity      = 0.5
	DefaultSessionDuration = 0.0
)

// Encoder turns contexts into states. The zero value is not usable; call NewEncoder.
type Encoder struct {
	now func() time.Time
}

// NewEncoder returns an encoder reading the wall clock for the time-of-day default.
func NewEncoder() *Encoder {
	return &Encoder{now: time.Now}
}

// NewEncoderWithClock returns an encoder using now for the time-of-day default.
func NewEncoderWithClock(now func() time.Time) *Encoder {
	if now == nil {
		now = time.Now
	}
	return &Encoder{now: now}
}

// Encode never fails: missing fields take their neutral defaults.
func (e *Encoder) Encode(c Context) State {
	f := Features{
		Frustration:     valueOr(c.Frustration, DefaultFrustration),
		Engagement:      valueOr(c.Engagement, DefaultEngagement),
		Complexity:      valueOr(c.Complexity, DefaultComplexity),
		TimeOfDay:       valueOr(c.TimeOfDay, float64(e.now().Hour())/24),
		SessionDuration: valueOr(c.SessionDuration, DefaultSessionDuration),
	}
	return State{Features: f, Key: Key(f)}
}

// Key discretizes each feature to one decimal place (half-up) and joins the
// tenths with "-". Identical rounded features always map to the same key.
func Key(f Features) string {
	values := f.Values()
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(int64(math.Floor(v*10+0.5)), 10)
	}
	return strings.Join(parts, "-")
}

// Float is a convenience for building contexts in code.
func Float(v float64) *float64 {
	return &v
}

func valueOr(p *float64, def float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return def
	}
	return *p
}
