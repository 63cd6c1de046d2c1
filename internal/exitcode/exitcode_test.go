package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOfNil(t *testing.T) {
	if Of(nil) != Success {
		t.Errorf("expected Success for nil error")
	}
}

func TestOfPlainError(t *testing.T) {
	if Of(errors.New("boom")) != FatalError {
		t.Errorf("expected FatalError for a plain error")
	}
}

func TestOfValue(t *testing.T) {
	v := New(BadUsage, "bad flag %s", "--foo")
	if Of(v) != BadUsage {
		t.Errorf("expected BadUsage, got %d", Of(v))
	}
	if v.Error() != "bad flag --foo" {
		t.Errorf("unexpected message: %s", v.Error())
	}
}

func TestOfWrappedValue(t *testing.T) {
	base := New(CoreErrors, "3 jobs failed")
	wrapped := fmt.Errorf("dump failed: %w", base)
	if Of(wrapped) != CoreErrors {
		t.Errorf("expected CoreErrors through wrapping, got %d", Of(wrapped))
	}
}

func TestNilValueIsSuccess(t *testing.T) {
	var v *Value
	if v.ExitCode() != Success || v.Error() != "" {
		t.Errorf("expected nil *Value to behave as success")
	}
}
