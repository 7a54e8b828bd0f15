package ctap2

import (
	"context"
	"fmt"
	"sync"

	"ctap2d/pkg/cborcodec"
	"ctap2d/pkg/cose"
	"ctap2d/pkg/storage"
)

// Response is the result of one Service.Call: a status byte plus an
// optional canonically-encoded CBOR body.
type Response struct {
	Status Status
	Body   []byte
}

// Service is the single-in-flight authenticator service (C9). All state
// mutation happens under mu, so concurrent Call invocations queue.
type Service struct {
	mu      sync.Mutex
	crypto  cose.Facade
	store   storage.Store
	signCtr uint32
}

// NewService wires a Service to a crypto facade and credential store.
func NewService(crypto cose.Facade, store storage.Store) *Service {
	return &Service{crypto: crypto, store: store}
}

// Call decodes and dispatches one CTAP2 request, encoded as a command byte
// followed by its CBOR parameter map. It processes at most one request at
// a time.
func (s *Service) Call(ctx context.Context, payload []byte) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		return errorResponse(NewStatusError(StatusInvalidCommand))
	}
	cmd := CommandByte(payload[0])
	params := payload[1:]

	switch cmd {
	case CmdMakeCredential:
		return s.handleMakeCredential(params)
	case CmdGetAssertion:
		return s.handleGetAssertion(ctx, params)
	case CmdGetInfo:
		return s.handleGetInfo()
	case CmdClientPIN:
		return s.handleClientPIN(params)
	case CmdReset:
		return s.handleReset()
	default:
		return errorResponse(NewStatusError(StatusInvalidCommand))
	}
}

func errorResponse(err *AuthenticatorError) Response {
	return Response{Status: err.Status}
}

func (s *Service) handleGetInfo() Response {
	body, err := cborcodec.Marshal(defaultGetInfoResponse())
	if err != nil {
		return errorResponse(NewCannotSendResponse(err))
	}
	return Response{Status: StatusSuccess, Body: body}
}

// handleMakeCredential fully decodes the request (exercising the keyed
// CBOR codec for every declared field) but does not issue a credential:
// execution is stubbed per scope.
func (s *Service) handleMakeCredential(params []byte) Response {
	var req MakeCredentialRequest
	if err := cborcodec.UnmarshalStrict(params, &req); err != nil {
		return errorResponse(NewDeserializationError(err))
	}
	if len(req.ClientDataHash) == 0 {
		return errorResponse(NewStatusError(StatusMissingParameter))
	}
	if len(req.PubKeyCredParams) == 0 {
		return errorResponse(NewStatusError(StatusMissingParameter))
	}

	var alg int32 = 0
	found := false
	for _, p := range req.PubKeyCredParams {
		if s.crypto.IsSupported(cose.Algorithm(p.Alg)) {
			alg = p.Alg
			found = true
			break
		}
	}
	if !found {
		return errorResponse(NewStatusError(StatusUnsupportedAlgorithm))
	}
	_ = alg

	return errorResponse(NewStatusError(StatusOperationDenied))
}

// handleGetAssertion fully decodes the request; execution is stubbed per
// scope.
func (s *Service) handleGetAssertion(ctx context.Context, params []byte) Response {
	var req GetAssertionRequest
	if err := cborcodec.UnmarshalStrict(params, &req); err != nil {
		return errorResponse(NewDeserializationError(err))
	}
	if req.RPID == "" || len(req.ClientDataHash) == 0 {
		return errorResponse(NewStatusError(StatusMissingParameter))
	}

	creds, err := s.store.GetForRP(ctx, req.RPID)
	if err != nil {
		return errorResponse(NewCannotSendResponse(fmt.Errorf("storage lookup: %w", err)))
	}
	if len(creds) == 0 {
		return errorResponse(NewStatusError(StatusNoCredentials))
	}

	return errorResponse(NewStatusError(StatusOperationDenied))
}

func (s *Service) handleClientPIN(params []byte) Response {
	var req ClientPINRequest
	if err := cborcodec.UnmarshalStrict(params, &req); err != nil {
		return errorResponse(NewDeserializationError(err))
	}
	return errorResponse(NewStatusError(StatusPinNotSet))
}

func (s *Service) handleReset() Response {
	return Response{Status: StatusSuccess}
}
