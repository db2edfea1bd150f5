package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/park285/cheese-scoreboard/internal/session"
	"github.com/park285/cheese-scoreboard/internal/signature"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const (
	DefaultMaxSkew        = 10 * time.Second
	DefaultMinFinalTime   = 30 * time.Second
	DefaultMaxNameRunes   = 20
	DefaultMaxCheckpoints = 1000

	// MaxWholeNumber is the largest integer a JSON client can carry exactly.
	MaxWholeNumber = 1<<53 - 1
)

// Payload is a decoded submission. FinalTime is nil when the client omitted it.
type Payload struct {
	SessionToken string
	PlayerName   string
	FinalTime    *int64
	MissCount    int64
	Checkpoints  []any
	Signature    string

	malformed string
}

// ParsePayload converts the wire request. The session token is kept byte-for-byte since it is
// both the lookup key and a signed field. Numbers that are not whole, are negative or exceed
// MaxWholeNumber are kept as a malformed marker so Validate reports them with the other missing fields.
func ParsePayload(req scoredto.SubmitScoreRequest) Payload {
	p := Payload{Checkpoints: req.Checkpoints}
	if req.SessionToken != nil {
		p.SessionToken = *req.SessionToken
	}
	if req.PlayerName != nil {
		p.PlayerName = *req.PlayerName
	}
	if req.Signature != nil {
		p.Signature = strings.TrimSpace(*req.Signature)
	}
	if req.FinalTime != nil {
		n, err := wholeNumber(json.Number(*req.FinalTime))
		if err != nil {
			p.malformed = "finalTime: " + err.Error()
		} else {
			p.FinalTime = &n
		}
	}
	if req.MissCount != nil {
		n, err := wholeNumber(json.Number(*req.MissCount))
		if err != nil {
			p.malformed = "missCount: " + err.Error()
		} else {
			p.MissCount = n
		}
	}
	return p
}

func wholeNumber(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		if v > MaxWholeNumber {
			return 0, fmt.Errorf("value %d out of range", v)
		}
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < 0 || f > MaxWholeNumber {
		return 0, fmt.Errorf("not a whole non-negative number")
	}
	return int64(f), nil
}

// Fields returns the signed view of the payload, exactly as submitted.
func (p Payload) Fields() signature.Fields {
	var ft int64
	if p.FinalTime != nil {
		ft = *p.FinalTime
	}
	return signature.Fields{
		SessionToken: p.SessionToken,
		PlayerName:   p.PlayerName,
		FinalTime:    ft,
		MissCount:    p.MissCount,
		Checkpoints:  p.Checkpoints,
	}
}

// Rules are the anti-cheat thresholds.
type Rules struct {
	Secret         []byte
	MaxSkew        time.Duration
	MinFinalTime   time.Duration
	MaxNameRunes   int
	MaxCheckpoints int
}

func (r Rules) withDefaults() Rules {
	if r.MaxSkew <= 0 {
		r.MaxSkew = DefaultMaxSkew
	}
	if r.MinFinalTime <= 0 {
		r.MinFinalTime = DefaultMinFinalTime
	}
	if r.MaxNameRunes <= 0 {
		r.MaxNameRunes = DefaultMaxNameRunes
	}
	if r.MaxCheckpoints <= 0 {
		r.MaxCheckpoints = DefaultMaxCheckpoints
	}
	return r
}

// Validator runs the ordered submission checks. It never mutates state.
type Validator struct {
	rules Rules
}

func NewValidator(rules Rules) *Validator {
	return &Validator{rules: rules.withDefaults()}
}

// Validate checks p against sess (nil when the token did not resolve) at server time now.
// Checks short-circuit in order; on success it returns the name to store.
func (v *Validator) Validate(sess *session.Session, p Payload, now time.Time) (string, error) {
	switch {
	case p.malformed != "":
		return "", reject(ReasonMissingFields, p.malformed)
	case strings.TrimSpace(p.SessionToken) == "":
		return "", reject(ReasonMissingFields, "sessionToken absent")
	case p.PlayerName == "":
		return "", reject(ReasonMissingFields, "playerName absent")
	case p.FinalTime == nil:
		return "", reject(ReasonMissingFields, "finalTime absent")
	case p.Signature == "":
		return "", reject(ReasonMissingFields, "signature absent")
	case len(p.Checkpoints) > v.rules.MaxCheckpoints:
		return "", reject(ReasonMissingFields, fmt.Sprintf("too many checkpoints: %d", len(p.Checkpoints)))
	}

	if sess == nil {
		return "", reject(ReasonInvalidSession, "unknown or expired token")
	}
	if sess.Completed {
		return "", reject(ReasonSessionReused, "session already completed")
	}
	if !signature.Verify(v.rules.Secret, p.Fields(), p.Signature) {
		return "", reject(ReasonBadSignature, "tag mismatch")
	}

	finalTime := *p.FinalTime
	elapsed := now.Sub(sess.StartTime).Milliseconds()
	if diff := elapsed - finalTime; diff > v.rules.MaxSkew.Milliseconds() || -diff > v.rules.MaxSkew.Milliseconds() {
		return "", reject(ReasonTimeMismatch, fmt.Sprintf("server elapsed %dms, reported %dms", elapsed, finalTime))
	}
	if finalTime < v.rules.MinFinalTime.Milliseconds() {
		return "", reject(ReasonSuspiciousTime, fmt.Sprintf("reported %dms", finalTime))
	}

	name := truncateRunes(strings.TrimSpace(p.PlayerName), v.rules.MaxNameRunes)
	if utf8.RuneCountInString(name) < 1 {
		return "", reject(ReasonInvalidNameLength, "blank player name")
	}
	return name, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
