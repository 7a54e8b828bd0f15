package ctaphid

import (
	"context"
	"io"
	"sync"
)

// Transport is the duplex, report-oriented byte channel below the server
// loop. Implementations exchange exactly ReportSize bytes per call. Receive
// returns io.EOF when the underlying device is gone.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, report []byte) error
}

// LoopbackTransport is an in-memory Transport used for tests and as the
// default stand-in for the OS-specific virtual-HID integration, which is
// out of scope for this package.
type LoopbackTransport struct {
	mu     sync.Mutex
	inbox  chan []byte
	outbox chan []byte
	closed bool
}

// NewLoopbackTransport returns a transport whose Send writes land in a
// buffer readable via Outbox, and whose Receive reads from reports fed via
// Feed.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		inbox:  make(chan []byte, 64),
		outbox: make(chan []byte, 64),
	}
}

// Feed enqueues a report as if it arrived from the device.
func (t *LoopbackTransport) Feed(report []byte) {
	t.inbox <- report
}

// Close signals Receive to return io.EOF once the inbox drains.
func (t *LoopbackTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
}

func (t *LoopbackTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case report, ok := <-t.inbox:
		if !ok {
			return nil, io.EOF
		}
		return report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *LoopbackTransport) Send(ctx context.Context, report []byte) error {
	select {
	case t.outbox <- report:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbox returns the channel of reports written via Send, for tests to
// drain.
func (t *LoopbackTransport) Outbox() <-chan []byte {
	return t.outbox
}
