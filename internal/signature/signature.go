// Package signature computes and checks the HMAC-SHA256 tag that clients attach to score submissions.
//
// The tag covers a canonical JSON object with a fixed key order:
//
//	{"sessionToken":...,"playerName":...,"finalTime":...,"missCount":...,"checkpoints":[...]}
//
// Integers are written in base 10 without fraction or exponent, strings are JSON escaped without
// HTML escaping, and checkpoint markers are normalised recursively (numbers by value, object keys
// sorted) so that logically equal payloads always produce the same bytes.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Fields are the signed submission fields.
type Fields struct {
	SessionToken string
	PlayerName   string
	FinalTime    int64
	MissCount    int64
	Checkpoints  []any
}

// Canonical returns the byte string the tag is computed over.
func Canonical(f Fields) []byte {
	var b bytes.Buffer
	b.WriteString(`{"sessionToken":`)
	writeString(&b, f.SessionToken)
	b.WriteString(`,"playerName":`)
	writeString(&b, f.PlayerName)
	b.WriteString(`,"finalTime":`)
	b.WriteString(strconv.FormatInt(f.FinalTime, 10))
	b.WriteString(`,"missCount":`)
	b.WriteString(strconv.FormatInt(f.MissCount, 10))
	b.WriteString(`,"checkpoints":[`)
	for i, cp := range f.Checkpoints {
		if i > 0 {
			b.WriteByte(',')
		}
		writeValue(&b, cp)
	}
	b.WriteString(`]}`)
	return b.Bytes()
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical form.
func Sign(secret []byte, f Fields) string {
	return hex.EncodeToString(mac(secret, f))
}

// Verify reports whether tag matches f. Comparison is constant time.
func Verify(secret []byte, f Fields, tag string) bool {
	provided, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(tag)))
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	return hmac.Equal(provided, mac(secret, f))
}

func mac(secret []byte, f Fields) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(Canonical(f))
	return h.Sum(nil)
}

func writeString(b *bytes.Buffer, s string) {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode always appends '\n'
	b.Truncate(b.Len() - 1)
}

func writeValue(b *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		writeString(b, x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			b.WriteString(x.String())
			return
		}
		b.WriteString(formatNumber(f))
	case float64:
		b.WriteString(formatNumber(x))
	case float32:
		b.WriteString(formatNumber(float64(x)))
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, k)
			b.WriteByte(':')
			writeValue(b, x[k])
		}
		b.WriteByte('}')
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			b.WriteString("null")
			return
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			b.WriteString("null")
			return
		}
		writeValue(b, generic)
	}
}

const maxSafeInteger = 1<<53 - 1

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
