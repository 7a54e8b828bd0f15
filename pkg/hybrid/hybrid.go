// Package hybrid adapts a caBLE v2 tunnel connection into a ctaphid.Transport
// (D4): the tunnel exchanges whole encrypted messages, while the server
// loop exchanges fixed REPORT_SIZE HID reports, so this layer dechunks
// outgoing reports into one tunnel message and chunks each incoming
// tunnel message back into reports.
package hybrid

import (
	"context"
	"encoding/binary"
	"fmt"

	"ctap2d/pkg/ctaphid"
	"ctap2d/pkg/tunnel"
)

// Transport wraps a *tunnel.Connection so it satisfies ctaphid.Transport.
type Transport struct {
	conn *tunnel.Connection

	outChannel uint32
	outCommand byte
	outPayload []byte
	outWant    int

	inbox [][]byte
}

// New wraps an established tunnel connection.
func New(conn *tunnel.Connection) *Transport {
	return &Transport{conn: conn}
}

// Send accumulates HID reports belonging to one message and forwards the
// reassembled message over the tunnel once complete.
func (t *Transport) Send(ctx context.Context, report []byte) error {
	pkt, err := ctaphid.Parse(report)
	if err != nil {
		return fmt.Errorf("hybrid: parse outgoing report: %w", err)
	}

	switch pkt.Kind {
	case ctaphid.KindInit:
		t.outChannel = pkt.Channel
		t.outCommand = pkt.Command
		t.outWant = int(pkt.PayloadLength)
		n := t.outWant
		if n > len(pkt.Data) {
			n = len(pkt.Data)
		}
		t.outPayload = append([]byte{}, pkt.Data[:n]...)
	case ctaphid.KindContinuation:
		remaining := t.outWant - len(t.outPayload)
		n := remaining
		if n > len(pkt.Data) {
			n = len(pkt.Data)
		}
		if n > 0 {
			t.outPayload = append(t.outPayload, pkt.Data[:n]...)
		}
	}

	if len(t.outPayload) < t.outWant {
		return nil
	}

	wire := make([]byte, 0, 5+len(t.outPayload))
	var channelBuf [4]byte
	binary.BigEndian.PutUint32(channelBuf[:], t.outChannel)
	wire = append(wire, channelBuf[:]...)
	wire = append(wire, t.outCommand)
	wire = append(wire, t.outPayload...)

	t.outPayload = nil
	t.outWant = 0

	return t.conn.WriteMessage(wire)
}

// Receive returns the next queued HID report, reading and chunking a new
// tunnel message if the queue is empty.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if len(t.inbox) == 0 {
		if err := t.fill(ctx); err != nil {
			return nil, err
		}
	}
	report := t.inbox[0]
	t.inbox = t.inbox[1:]
	return report, nil
}

func (t *Transport) fill(ctx context.Context) error {
	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, err := t.conn.ReadMessage()
		resultCh <- readResult{data, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return fmt.Errorf("hybrid: read tunnel message: %w", r.err)
		}
		if len(r.data) < 5 {
			return fmt.Errorf("hybrid: tunnel message too short: %d bytes", len(r.data))
		}
		channel := binary.BigEndian.Uint32(r.data[0:4])
		command := r.data[4]
		payload := r.data[5:]
		t.inbox = ctaphid.EncodeMessage(channel, command, payload)
		return nil
	}
}

// Close releases the underlying tunnel connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
