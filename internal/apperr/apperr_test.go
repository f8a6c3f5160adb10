package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save titles: %w", Storage("write kv", cause))

	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage match, got %v", err)
	}
	if errors.Is(err, ErrNetwork) {
		t.Fatal("storage error must not match ErrNetwork")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause lost in chain")
	}
	if CodeOf(err) != CodeStorage {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Network("put document", errors.New("timeout")), true},
		{ErrSyncInProgress, true},
		{ErrUnauthenticated, false},
		{Validation("bad payload"), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(CodeNotFound, "title", errors.New("abc"))
	if got := err.Error(); got != "[NOT_FOUND] title: abc" {
		t.Fatalf("Error() = %q", got)
	}
}
