package ecoerr

import (
	"errors"
	"testing"
)

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTransient, "probe_failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find the wrapped cause")
	}
}

func TestErrorIsMatchesByKindAndCode(t *testing.T) {
	err := New(KindIntegrity, "crc_mismatch", nil)

	if !errors.Is(err, &Error{Kind: KindIntegrity}) {
		t.Fatal("expected match on Kind alone when target Code is empty")
	}
	if !errors.Is(err, &Error{Kind: KindIntegrity, Code: "crc_mismatch"}) {
		t.Fatal("expected match when Kind and Code both agree")
	}
	if errors.Is(err, &Error{Kind: KindIntegrity, Code: "other_code"}) {
		t.Fatal("expected no match when Code disagrees")
	}
	if errors.Is(err, &Error{Kind: KindFatal}) {
		t.Fatal("expected no match when Kind disagrees")
	}
}

func TestNewNRCSetsProtocolKind(t *testing.T) {
	err := NewNRC("uds_did_not_registered", 0x31, ErrNotFound)
	if err.Kind != KindProtocol {
		t.Fatalf("Kind = %v, want KindProtocol", err.Kind)
	}
	if err.NRC != 0x31 {
		t.Fatalf("NRC = 0x%X, want 0x31", err.NRC)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected the sentinel cause to be reachable via errors.Is")
	}
}

func TestErrorMessageIncludesKindCodeAndCause(t *testing.T) {
	err := New(KindConfiguration, "bad_entry", errors.New("duplicate id"))
	got := err.Error()
	want := "configuration: bad_entry: duplicate id"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	err := New(KindFatal, "watchdog_timeout", nil)
	got := err.Error()
	want := "fatal: watchdog_timeout"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestKindStringCoversAllValues(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration: "configuration",
		KindTransient:     "transient",
		KindProtocol:      "protocol",
		KindIntegrity:     "integrity",
		KindFatal:         "fatal",
		Kind(99):          "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
