package errors_test

import (
	"testing"

	"github.com/rastercache/rastercache/internal/errors"
)

func TestFatal(t *testing.T) {
	for _, v := range []struct {
		err      error
		expected bool
	}{
		{errors.Fatal("broken"), true},
		{errors.Fatalf("broken %d", 42), true},
		{errors.New("error"), false},
	} {
		if errors.IsFatal(v.err) != v.expected {
			t.Fatalf("IsFatal for %q, expected: %v, got: %v", v.err, v.expected, errors.IsFatal(v.err))
		}
	}
}

func TestFatalErrorWrapping(t *testing.T) {
	underlying := errors.New("underlying error")
	fatal := errors.Fatalf("fatal error: %v", underlying)

	if fatal.Error() != "Fatal: fatal error: underlying error" {
		t.Errorf("unexpected error message: %v", fatal.Error())
	}

	if !errors.Is(fatal, underlying) {
		t.Error("fatal error should wrap the underlying error")
	}
}

func TestPrecondition(t *testing.T) {
	errors.Precondition(true, "never raised")

	defer func() {
		r := recover()
		if !errors.IsPrecondition(r) {
			t.Fatalf("expected precondition panic, got %#v", r)
		}

		if r.(error).Error() != "precondition violated: page 3 out of range" {
			t.Fatalf("unexpected message %q", r.(error).Error())
		}
	}()

	errors.Precondition(false, "page %d out of range", 3)
	t.Fatal("Precondition did not panic")
}
