package whatsapp

import (
	"strconv"
	"testing"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/transport"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	f := NewFactory(t.TempDir(), "test-device")
	tc, err := f.NewClient("tenant-1")
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return tc.(*Client)
}

func TestEmit_NoLossPastBufferCapacity(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	defer c.Destroy()

	const n = 40 // well past the channel buffer

	counted := make(chan int, 1)
	go func() {
		count := 0
		for range c.Events() {
			count++
			if count == n {
				counted <- count
				return
			}
		}
		counted <- count
	}()

	for i := 0; i < n; i++ {
		c.emit(transport.Event{Type: transport.EventPairing, Code: strconv.Itoa(i)})
	}

	select {
	case got := <-counted:
		if got != n {
			t.Fatalf("expected %d events delivered, got %d", n, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events not delivered within 2s")
	}
}

func TestDestroy_UnblocksPendingEmit(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)

	// Fill the buffer with no consumer so the next emit has to wait.
	for i := 0; i < cap(c.events); i++ {
		c.emit(transport.Event{Type: transport.EventPairing, Code: strconv.Itoa(i)})
	}

	unblocked := make(chan struct{})
	go func() {
		c.emit(transport.Event{Type: transport.EventReady})
		close(unblocked)
	}()

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit still blocked after Destroy")
	}

	// Buffered events stay readable and the channel closes behind them.
	drained := 0
	for range c.Events() {
		drained++
	}
	if drained != cap(c.events) {
		t.Fatalf("expected %d buffered events before close, got %d", cap(c.events), drained)
	}
}

func TestEmit_AfterDestroy(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}

	// Must not panic or block.
	c.emit(transport.Event{Type: transport.EventDisconnected})

	if err := c.Destroy(); err != nil {
		t.Fatalf("second Destroy() error: %v", err)
	}
}
