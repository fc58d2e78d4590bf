package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "load session")
	if !stderrors.Is(err, ErrNotFound) {
		t.Errorf("wrapped error should match ErrNotFound, got %v", err)
	}
	if err.Error() != "load session: not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrapf_Format(t *testing.T) {
	err := Wrapf(ErrConflict, "session %s", "s1")
	if !Is(err, ErrConflict) {
		t.Errorf("wrapped error should match ErrConflict, got %v", err)
	}
	if err.Error() != "session s1: conflict" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
