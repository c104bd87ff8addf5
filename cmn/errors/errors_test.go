package errors

import (
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestKindIs(t *testing.T) {
	base := New(KindNotFound, "gone")
	if !Is(base, KindNotFound) {
		t.Fatal("Is should match the kind")
	}
	if Is(base, KindAuth) {
		t.Fatal("Is should not match a different kind")
	}
	wrapped := pkgerrors.Wrap(base, "outer")
	if !Is(wrapped, KindNotFound) {
		t.Fatal("Is should see through pkg/errors wrapping")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindTransient, nil, "noop") != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestRecoverable(t *testing.T) {
	recoverable := []Kind{KindTransient, KindRangeConflict, KindTruncation, KindDuplicateSibling}
	for _, k := range recoverable {
		if !Recoverable(New(k, "x")) {
			t.Errorf("%s should be recoverable", k)
		}
	}
	fatal := []Kind{KindAuth, KindNotFound, KindSchema, KindPartialUpload}
	for _, k := range fatal {
		if Recoverable(New(k, "x")) {
			t.Errorf("%s should not be recoverable", k)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindAuth.String() != "auth" || KindPartialUpload.String() != "partial-upload" {
		t.Error("Kind.String mismatch")
	}
	e := New(KindSchema, "bad json")
	if e.Error() != "schema: bad json" {
		t.Errorf("Error() = %q", e.Error())
	}
}
