package apierr_test

import (
	"errors"
	"testing"

	"github.com/vonbase/nexusmem/internal/apierr"
)

func TestNew_FormatsMessage(t *testing.T) {
	err := apierr.New(apierr.NotFound, "memory %q not found", "abc-123")
	if err.Kind != apierr.NotFound {
		t.Errorf("Kind = %v, want NotFound", err.Kind)
	}
	want := `not_found: memory "abc-123" not found`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_IncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apierr.Wrap(apierr.ProviderUnavailable, cause, "primary store")
	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve cause for errors.Is")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := apierr.New(apierr.Duplicate, "already stored")
	if !apierr.Is(err, apierr.Duplicate) {
		t.Error("Is(err, Duplicate) = false, want true")
	}
	if apierr.Is(err, apierr.NotFound) {
		t.Error("Is(err, NotFound) = true, want false")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if apierr.Is(errors.New("plain"), apierr.InternalError) {
		t.Error("Is should be false for a plain error, regardless of kind")
	}
}

func TestKindOf_ExtractsKind(t *testing.T) {
	err := apierr.New(apierr.DeadlineExceeded, "timed out")
	if got := apierr.KindOf(err); got != apierr.DeadlineExceeded {
		t.Errorf("KindOf(err) = %v, want DeadlineExceeded", got)
	}
}

func TestKindOf_DefaultsToInternalError(t *testing.T) {
	if got := apierr.KindOf(errors.New("boom")); got != apierr.InternalError {
		t.Errorf("KindOf(plain error) = %v, want InternalError", got)
	}
}

func TestKindOf_TraversesWrappedErrors(t *testing.T) {
	inner := apierr.New(apierr.Duplicate, "dup")
	outer := errors.Join(errors.New("context"), inner)
	if got := apierr.KindOf(outer); got != apierr.Duplicate {
		t.Errorf("KindOf(joined error) = %v, want Duplicate", got)
	}
}

func TestError_WithoutCause(t *testing.T) {
	err := apierr.New(apierr.InvalidRequest, "content must not be empty")
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil when no cause was set", err.Unwrap())
	}
}
