package cli

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInterruptHandler_CancelsOnSignal(t *testing.T) {
	out := &syncBuffer{}
	h := NewInterruptHandler(out)
	h.SetMessage("Watcher stopped.")

	ctx, cancel := h.HandleInterrupts(context.Background())
	defer cancel()

	h.signals <- os.Interrupt

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled")
	}

	require.Eventually(t, h.WasInterrupted, time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "Interrupted!")
	assert.Contains(t, out.String(), "Watcher stopped.")
}

func TestInterruptHandler_ParentCancel(t *testing.T) {
	out := &syncBuffer{}
	h := NewInterruptHandler(out)

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := h.HandleInterrupts(parent)
	defer cancel()

	cancelParent()
	<-ctx.Done()

	assert.False(t, h.WasInterrupted())
	assert.Empty(t, out.String())
}

func TestNewInterruptHandler_DefaultWriter(t *testing.T) {
	h := NewInterruptHandler(nil)
	assert.Equal(t, os.Stderr, h.writer)
}
