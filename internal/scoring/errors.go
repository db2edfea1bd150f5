package scoring

import (
	"errors"
	"net/http"
)

// Reason identifies why a submission was rejected.
type Reason string

const (
	ReasonMissingFields     Reason = "missing-fields"
	ReasonInvalidSession    Reason = "invalid-session"
	ReasonSessionReused     Reason = "session-reused"
	ReasonBadSignature      Reason = "bad-signature"
	ReasonTimeMismatch      Reason = "time-mismatch"
	ReasonSuspiciousTime    Reason = "suspicious-time"
	ReasonInvalidNameLength Reason = "invalid-name-length"
)

var defaultMessages = map[Reason]string{
	ReasonMissingFields:     "Missing or malformed required fields",
	ReasonInvalidSession:    "Invalid or expired session",
	ReasonSessionReused:     "Session already used",
	ReasonBadSignature:      "Invalid signature",
	ReasonTimeMismatch:      "Reported time does not match the session",
	ReasonSuspiciousTime:    "Time too fast to be legitimate",
	ReasonInvalidNameLength: "Player name must be 1-20 characters",
}

// Status is the HTTP status a rejection maps to.
func (r Reason) Status() int {
	switch r {
	case ReasonInvalidSession, ReasonBadSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// ValidationError carries the rejection reason. Detail is for logs only.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if msg, ok := defaultMessages[e.Reason]; ok {
		return msg
	}
	return string(e.Reason)
}

func reject(r Reason, detail string) *ValidationError {
	return &ValidationError{Reason: r, Detail: detail}
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

var ErrRateLimited = errors.New("too many sessions requested, try again later")
