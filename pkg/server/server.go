// Package server implements the CTAP-HID server loop (C10): it owns the
// HID transport and the packet processor, and hands CTAP2 CBOR requests
// off to the authenticator service across a goroutine boundary.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"ctap2d/pkg/ctap2"
	"ctap2d/pkg/ctaphid"
)

// requestQueueSize approximates the "unbounded" single-producer queue the
// design calls for without actually allocating unbounded memory; a single
// CTAP2 transaction is in flight at a time, so this is never a real limit.
const requestQueueSize = 64

type cborRequest struct {
	channel uint32
	payload []byte
}

type cborResponse struct {
	channel uint32
	payload []byte
}

// Server orchestrates report ingress, packet processing, and CTAP2
// dispatch concurrently.
type Server struct {
	transport ctaphid.Transport
	processor *ctaphid.Processor
	service   *ctap2.Service
	logger    *log.Logger

	requests  chan cborRequest
	responses chan cborResponse

	hook func(cmd ctap2.CommandByte, params []byte, resp ctap2.Response)
}

// SetResponseHook registers a callback invoked with every completed CTAP2
// request/response pair, after the authenticator service has run but
// before the response is written back to the transport. It is the wiring
// point for consumers such as the attestation sink (D5).
func (s *Server) SetResponseHook(hook func(cmd ctap2.CommandByte, params []byte, resp ctap2.Response)) {
	s.hook = hook
}

// New wires a Server to a transport and authenticator service.
func New(transport ctaphid.Transport, service *ctap2.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		transport: transport,
		processor: ctaphid.NewProcessor(),
		service:   service,
		logger:    logger,
		requests:  make(chan cborRequest, requestQueueSize),
		responses: make(chan cborResponse, requestQueueSize),
	}
}

// Run drives the server loop until the transport is exhausted, the service
// goroutine fails, or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make(chan []byte)
	recvErr := make(chan error, 1)
	go s.receiveLoop(ctx, reports, recvErr)

	svcErr := make(chan error, 1)
	go s.serviceLoop(ctx, svcErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("server: transport receive: %w", err)

		case err := <-svcErr:
			return fmt.Errorf("server: authenticator service: %w", err)

		case report := <-reports:
			s.handleReport(ctx, report)

		case resp := <-s.responses:
			if err := s.writeResponse(ctx, resp); err != nil {
				return fmt.Errorf("server: writing response: %w", err)
			}
		}
	}
}

func (s *Server) receiveLoop(ctx context.Context, out chan<- []byte, errCh chan<- error) {
	for {
		report, err := s.transport.Receive(ctx)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case out <- report:
		case <-ctx.Done():
			return
		}
	}
}

// serviceLoop drains request, runs it through the authenticator service,
// and queues the response. It never returns an error in this
// implementation (Service.Call reports every failure as a CTAP2 status
// byte), but the channel is kept so a future panicking dependency still
// has a defined shutdown path.
func (s *Server) serviceLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			resp := s.service.Call(ctx, req.payload)
			if s.hook != nil && len(req.payload) > 0 {
				s.hook(ctap2.CommandByte(req.payload[0]), req.payload[1:], resp)
			}
			body := make([]byte, 0, 1+len(resp.Body))
			body = append(body, byte(resp.Status))
			body = append(body, resp.Body...)

			select {
			case s.responses <- cborResponse{channel: req.channel, payload: body}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleReport is step 2/3 of §4.9: parse, feed to the processor,
// translate the result, and write errors as CTAP-HID ERROR messages.
func (s *Server) handleReport(ctx context.Context, report []byte) {
	pkt, err := ctaphid.Parse(report)
	if err != nil {
		s.logger.Printf("ctaphid: dropping malformed report: %v", err)
		return
	}

	result, err := s.processor.HandlePacket(pkt)
	if err != nil {
		var serr *ctaphid.ServerError
		if errors.As(err, &serr) {
			s.writeReports(ctx, ctaphid.EncodeError(serr.Channel, serr.Code))
			return
		}
		s.logger.Printf("ctaphid: unexpected processor error: %v", err)
		return
	}

	switch result.Kind {
	case ctaphid.WaitingForMorePackets, ctaphid.Aborted:
		return
	case ctaphid.ResponseReady:
		s.writeReports(ctx, result.Reports)
	case ctaphid.CBORRequest:
		select {
		case s.requests <- cborRequest{channel: result.Channel, payload: result.Payload}:
		case <-ctx.Done():
		}
	}
}

func (s *Server) writeResponse(ctx context.Context, resp cborResponse) error {
	reports := ctaphid.EncodeMessage(resp.channel, byte(ctaphid.CommandCBOR), resp.payload)
	return s.sendReports(ctx, reports)
}

func (s *Server) writeReports(ctx context.Context, reports [][]byte) {
	if err := s.sendReports(ctx, reports); err != nil {
		s.logger.Printf("ctaphid: failed to write response: %v", err)
	}
}

func (s *Server) sendReports(ctx context.Context, reports [][]byte) error {
	for _, report := range reports {
		if err := s.transport.Send(ctx, report); err != nil {
			return err
		}
	}
	return nil
}
