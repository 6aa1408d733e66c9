package errorutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil || UnWrapResponse(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}

	t.Run("keeps classified error in chain", func(t *testing.T) {
		inner := NonRetriable("order id is required")
		got := Wrap(fmt.Errorf("step[1] failed: %w", inner))
		if got != inner || got.Code != 400 || got.Retryable {
			t.Fatalf("expected original error, got %+v", got)
		}
	})

	t.Run("timeouts are retryable", func(t *testing.T) {
		for _, err := range []error{context.DeadlineExceeded, fmt.Errorf("notify: %w", context.Canceled)} {
			if !IsRetryable(err) {
				t.Fatalf("expected %v to be retryable", err)
			}
		}
	})

	t.Run("plain errors are permanent", func(t *testing.T) {
		got := Wrap(errors.New("boom"))
		if got.Retryable || got.Code != 500 || got.Message != "boom" {
			t.Fatalf("unexpected wrap %+v", got)
		}
	})

	t.Run("constructors", func(t *testing.T) {
		if e := Retriable("db down"); !e.Retryable || e.Code != 500 || e.Error() != "db down" {
			t.Fatalf("unexpected %+v", e)
		}
		if e := RetriableWithDetails("db down", "dial tcp"); e.DevDetails != "dial tcp" {
			t.Fatalf("unexpected %+v", e)
		}
		if e := NonRetriableWithDetails("bad", "detail"); e.Retryable || e.Code != 400 || e.DevDetails != "detail" {
			t.Fatalf("unexpected %+v", e)
		}
	})
}
