package scoredto

// DomainError is the wire shape of every failed request.
type DomainError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "score service error"
}
