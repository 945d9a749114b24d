package errors

import (
	"testing"

	"github.com/pkg/errors"
)

func TestClassifyThroughWrapping(t *testing.T) {
	base := errors.New("disk full")
	cases := []struct {
		err   error
		check func(error) bool
	}{
		{NewValidationError("name", "must not be empty"), IsValidation},
		{NewInfrastructureError("ns1", base), IsInfrastructure},
		{NewPersistenceError("upsert node", base), IsPersistence},
		{NewLivenessTimeout("local://h/ns1/a", base), IsLivenessTimeout},
		{NewScriptExecutionError("abc", "local://h/ns1/a", base), IsScriptExecution},
	}
	for i, c := range cases {
		wrapped := errors.Wrap(errors.Wrap(c.err, "inner"), "outer")
		if !c.check(wrapped) {
			t.Errorf("case %d: wrapped %v not classified", i, wrapped)
		}
		if IsValidation(base) || IsPersistence(base) {
			t.Errorf("plain error classified as a taxonomy error")
		}
	}
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	base := errors.New("locked")
	err := errors.Wrap(NewPersistenceError("delete node", base), "remove")
	if !errors.Is(err, base) {
		t.Errorf("expected %v to unwrap to %v", err, base)
	}
}

func TestExitCodeOf(t *testing.T) {
	if ExitCodeOf(nil) != 0 {
		t.Errorf("nil error should exit 0")
	}
	if c := ExitCodeOf(errors.New("x")); c != 1 {
		t.Errorf("plain error should exit 1, got %d", c)
	}
	err := errors.Wrap(NewError(errors.New("x"), DBInitFailureExitCode), "startup")
	if c := ExitCodeOf(err); c != DBInitFailureExitCode {
		t.Errorf("expected %d, got %d", DBInitFailureExitCode, c)
	}
	if NewError(nil, DBInitFailureExitCode) != nil {
		t.Errorf("nil error should not be wrapped")
	}
}
