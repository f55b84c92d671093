package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap(KindStore, nil, "close"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"new", New(KindParameter, "bad value"), KindParameter},
		{"wrapped", Wrap(KindStore, errors.New("disk"), "put rule"), KindStore},
		{"double wrapped", fmt.Errorf("outer: %w", New(KindTimeout, "deadline")), KindTimeout},
		{"untyped", errors.New("plain"), Kind("")},
		{"nil", nil, Kind("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	err := New(KindCapability, "unknown capability")
	if !IsCapability(err) {
		t.Error("IsCapability should match")
	}
	if IsLifecycle(err) {
		t.Error("IsLifecycle should not match a capability error")
	}
}

func TestErrorStringCarriesCause(t *testing.T) {
	cause := errors.New("locked")
	err := Wrap(KindStore, cause, "open db")
	if got := err.Error(); got != "store: open db: locked" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should survive errors.Is")
	}
}
