package xerrors

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindForbidden, "op", "", errors.New("boom"))

	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindInvalid},
		{name: "wrapped error", err: wrapped, kind: KindForbidden},
		{name: "fmt wrapped", err: fmt.Errorf("outer: %w", wrapped), kind: KindForbidden},
		{name: "sentinel not found", err: ErrNotFound, kind: KindNotFound},
		{name: "sentinel too large", err: ErrTooLarge, kind: KindTooLarge},
		{name: "iofs permission", err: iofs.ErrPermission, kind: KindForbidden},
		{name: "iofs invalid", err: iofs.ErrInvalid, kind: KindInvalid},
		{name: "os not exist", err: os.ErrNotExist, kind: KindNotFound},
		{name: "unknown error defaults internal", err: errors.New("other"), kind: KindInternal},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := Wrap(KindNotFound, "meta.Get", "abc", os.ErrNotExist)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected %v to match ErrNotFound", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatalf("did not expect %v to match ErrForbidden", err)
	}
	if got := err.Error(); got != "meta.Get: not found abc: file does not exist" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestClassifyKeepsKind(t *testing.T) {
	inner := E(KindTooLarge, "paste.Ingest", "")
	err := Classify("httpapi.upload", "", inner)
	if KindOf(err) != KindTooLarge {
		t.Fatalf("expected too large, got %v", KindOf(err))
	}
	if Classify("op", "", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
