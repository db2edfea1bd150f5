package signature

import (
	"encoding/json"
	"strings"
	"testing"
)

var secret = []byte("test-secret")

func sampleFields() Fields {
	return Fields{
		SessionToken: "abc123",
		PlayerName:   "Ada <3",
		FinalTime:    45000,
		MissCount:    2,
		Checkpoints:  []any{json.Number("1000"), "cp-2", map[string]any{"t": json.Number("2500"), "a": true}},
	}
}

func TestCanonicalIsFieldOrderStable(t *testing.T) {
	got := string(Canonical(sampleFields()))
	want := `{"sessionToken":"abc123","playerName":"Ada <3","finalTime":45000,"missCount":2,"checkpoints":[1000,"cp-2",{"a":true,"t":2500}]}`
	if got != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestCanonicalNormalisesNumbers(t *testing.T) {
	a := Fields{Checkpoints: []any{json.Number("45000.0"), 1.5, int64(7)}}
	b := Fields{Checkpoints: []any{float64(45000), json.Number("1.50"), 7}}
	if string(Canonical(a)) != string(Canonical(b)) {
		t.Fatalf("numeric representations should canonicalise identically:\n%s\n%s", Canonical(a), Canonical(b))
	}
}

func TestCanonicalEmptyCheckpoints(t *testing.T) {
	got := string(Canonical(Fields{SessionToken: "t", PlayerName: "p"}))
	if !strings.HasSuffix(got, `"checkpoints":[]}`) {
		t.Fatalf("nil checkpoints should render as empty array: %s", got)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	f := sampleFields()
	tag := Sign(secret, f)
	if len(tag) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(tag))
	}
	if !Verify(secret, f, tag) {
		t.Fatalf("valid tag rejected")
	}
	if !Verify(secret, f, strings.ToUpper(tag)) {
		t.Fatalf("uppercase hex should be accepted")
	}
	if Verify([]byte("other"), f, tag) {
		t.Fatalf("tag must depend on secret")
	}
}

func TestVerifyRejectsAnyMutation(t *testing.T) {
	base := sampleFields()
	tag := Sign(secret, base)

	mutations := map[string]func(*Fields){
		"token":      func(f *Fields) { f.SessionToken = "abc124" },
		"name":       func(f *Fields) { f.PlayerName = "Ada <2" },
		"finalTime":  func(f *Fields) { f.FinalTime ^= 1 },
		"missCount":  func(f *Fields) { f.MissCount = 3 },
		"checkpoint": func(f *Fields) { f.Checkpoints = []any{json.Number("1001")} },
		"dropped":    func(f *Fields) { f.Checkpoints = nil },
	}
	for name, mutate := range mutations {
		f := sampleFields()
		mutate(&f)
		if Verify(secret, f, tag) {
			t.Fatalf("mutation %q should invalidate the tag", name)
		}
	}

	flipped := []byte(tag)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}
	if Verify(secret, base, string(flipped)) {
		t.Fatalf("mutated tag accepted")
	}
	if Verify(secret, base, "not-hex") || Verify(secret, base, "") || Verify(secret, base, tag[:10]) {
		t.Fatalf("malformed tags must be rejected")
	}
}
