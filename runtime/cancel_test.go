package runtime

import (
	"context"
	"testing"
	"time"
)

func TestCancellationHandlerFinalizerRunsOnce(t *testing.T) {
	ctx, h := NewCancellationHandler(context.Background(), testLogger())

	runs := 0
	h.OnExit(func() { runs++ })

	h.Finish()
	h.Finish()

	if runs != 1 {
		t.Fatalf("finalizer runs = %d, want 1", runs)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after Finish")
	}
}

func TestCancellationHandlerPropagatesParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, h := NewCancellationHandler(parent, testLogger())
	defer h.Finish()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not propagated")
	}
	if !Canceled(ctx) {
		t.Fatal("Canceled() = false for canceled context")
	}
}
