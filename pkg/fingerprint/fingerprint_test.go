package fingerprint

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func TestOfMatchesStreaming(t *testing.T) {
	payload := bytes.Repeat([]byte("stream me "), 10000)
	h := New()
	if _, err := io.Copy(h, bytes.NewReader(payload)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	streamed := Encode(h.Sum(nil))
	if got := Of(payload); got != streamed {
		t.Fatalf("Of = %s, streaming = %s", got, streamed)
	}
	if len(streamed) != CodeLen {
		t.Fatalf("expected %d chars, got %d", CodeLen, len(streamed))
	}
	if !Valid(string(streamed)) {
		t.Fatalf("code %q should be valid", streamed)
	}
}

func TestDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	if a != b {
		t.Fatalf("expected identical codes, got %s and %s", a, b)
	}
	if Of([]byte("hello!")) == a {
		t.Fatalf("expected different content to give a different code")
	}
}

func TestNoCollisionsAcrossRandomPayloads(t *testing.T) {
	seen := make(map[Code]struct{}, 5000)
	buf := make([]byte, 64)
	for i := 0; i < 5000; i++ {
		if _, err := rand.Read(buf); err != nil {
			t.Fatalf("rand: %v", err)
		}
		code := Of(buf)
		if _, dup := seen[code]; dup {
			t.Fatalf("collision after %d payloads: %s", i, code)
		}
		seen[code] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	testcases := []struct {
		in   string
		want bool
	}{
		{in: string(Of([]byte("x"))), want: true},
		{in: "", want: false},
		{in: "short", want: false},
		{in: "abcdefghij/lmnopqrst", want: false},
		{in: "abcdefghij..mnopqrst", want: false},
		{in: "abcdefghij-_mnopqrst", want: true},
	}
	for _, tc := range testcases {
		if got := Valid(tc.in); got != tc.want {
			t.Fatalf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
