package scoredto

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrQuotedNumber = errors.New("number must be a JSON number literal, not a string")

// Number holds a JSON number literal as written. Unlike json.Number it refuses quoted strings.
type Number string

func (n Number) String() string { return string(n) }

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return ErrQuotedNumber
	}
	var v json.Number
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(json.Number(n))
}
