package groutine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NameVisibleInContext(t *testing.T) {
	names := make(chan string, 1)
	Go(nil, "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name, "goroutine name MUST be readable from its context")
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoAll_ClosesAfterAllReturn(t *testing.T) {
	var n atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) {
		<-release
		n.Add(1)
	}

	done := GoAll(context.Background(), "batch", fn, fn, fn)

	select {
	case <-done:
		t.Fatal("done MUST NOT close while goroutines are still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done MUST close once every goroutine returned")
	}
	require.EqualValues(t, 3, n.Load())
}

func TestGoAll_Empty(t *testing.T) {
	select {
	case <-GoAll(context.Background(), "empty"):
	case <-time.After(time.Second):
		t.Fatal("done MUST close immediately when there is nothing to run")
	}
}

func TestGetName_NoName(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck
}
