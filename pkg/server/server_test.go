package server

import (
	"context"
	"encoding/binary"
	"log"
	"testing"
	"time"

	"ctap2d/pkg/cose"
	"ctap2d/pkg/ctap2"
	"ctap2d/pkg/ctaphid"
	"ctap2d/pkg/storage"
)

func pad(b []byte) []byte {
	report := make([]byte, ctaphid.ReportSize)
	copy(report, b)
	return report
}

func allocateChannel(t *testing.T, transport *ctaphid.LoopbackTransport) uint32 {
	t.Helper()
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	transport.Feed(pad(append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x86, 0x00, 0x08}, nonce...)))

	select {
	case report := <-transport.Outbox():
		return binary.BigEndian.Uint32(report[15:19])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for INIT response")
		return 0
	}
}

func newTestServer() (*Server, *ctaphid.LoopbackTransport) {
	transport := ctaphid.NewLoopbackTransport()
	service := ctap2.NewService(cose.NewFacade(), storage.NewMemoryStore())
	return New(transport, service, log.Default()), transport
}

// TestGetInfoRoundTrip drives a full INIT + CBOR authenticatorGetInfo
// exchange through the server loop and checks the response comes back on
// the allocated channel with a success status byte.
func TestGetInfoRoundTrip(t *testing.T) {
	srv, transport := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	channel := allocateChannel(t, transport)

	var cidBytes [4]byte
	binary.BigEndian.PutUint32(cidBytes[:], channel)
	report := pad(append(append([]byte{}, cidBytes[:]...), 0x90, 0x00, 0x01, byte(ctap2.CmdGetInfo)))
	transport.Feed(report)

	select {
	case resp := <-transport.Outbox():
		if binary.BigEndian.Uint32(resp[0:4]) != channel {
			t.Errorf("expected response on channel %08x, got %08x", channel, binary.BigEndian.Uint32(resp[0:4]))
		}
		if resp[4] != byte(ctaphid.CommandCBOR)|0x80 {
			t.Errorf("expected CBOR command byte, got %02x", resp[4])
		}
		if resp[7] != byte(ctap2.StatusSuccess) {
			t.Errorf("expected success status byte, got %02x", resp[7])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CBOR response")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected Run to return context.Canceled, got %v", err)
	}
}

// TestResponseHookObservesCompletedCalls checks that a registered hook fires
// with the command byte and response the service actually produced.
func TestResponseHookObservesCompletedCalls(t *testing.T) {
	srv, transport := newTestServer()

	var gotCmd ctap2.CommandByte
	hookCh := make(chan struct{}, 1)
	srv.SetResponseHook(func(cmd ctap2.CommandByte, params []byte, resp ctap2.Response) {
		gotCmd = cmd
		hookCh <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	channel := allocateChannel(t, transport)
	var cidBytes [4]byte
	binary.BigEndian.PutUint32(cidBytes[:], channel)
	transport.Feed(pad(append(append([]byte{}, cidBytes[:]...), 0x90, 0x00, 0x01, byte(ctap2.CmdGetInfo))))

	select {
	case <-hookCh:
		if gotCmd != ctap2.CmdGetInfo {
			t.Errorf("expected hook to observe CmdGetInfo, got %v", gotCmd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response hook")
	}
}

// TestRunStopsOnEOF checks that the server loop exits cleanly when the
// transport's inbox is closed.
func TestRunStopsOnEOF(t *testing.T) {
	srv, transport := newTestServer()
	transport.Close()

	err := srv.Run(context.Background())
	if err != nil {
		t.Errorf("expected nil error on transport EOF, got %v", err)
	}
}
