package ctap2

import (
	"context"
	"testing"

	"ctap2d/pkg/cborcodec"
	"ctap2d/pkg/cose"
	"ctap2d/pkg/storage"
)

func newTestService() *Service {
	return NewService(cose.NewFacade(), storage.NewMemoryStore())
}

func TestGetInfoResponseShape(t *testing.T) {
	s := newTestService()
	resp := s.Call(context.Background(), []byte{byte(CmdGetInfo)})
	if resp.Status != StatusSuccess {
		t.Fatalf("expected success, got status 0x%02x", resp.Status)
	}

	var decoded GetInfoResponse
	if err := cborcodec.UnmarshalStrict(resp.Body, &decoded); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(decoded.Versions) != 1 || decoded.Versions[0] != "FIDO_2_0" {
		t.Errorf("expected versions=[FIDO_2_0], got %v", decoded.Versions)
	}
	if decoded.Options.Platform {
		t.Errorf("expected platform=false")
	}
	if !decoded.Options.ResidentKey || !decoded.Options.UserPresence || !decoded.Options.UserVerification {
		t.Errorf("expected rk/up/uv all true, got %+v", decoded.Options)
	}
	if len(decoded.Aaguid) != 16 {
		t.Errorf("expected 16-byte AAGUID, got %d bytes", len(decoded.Aaguid))
	}
}

func TestResetReturnsSuccessWithEmptyBody(t *testing.T) {
	s := newTestService()
	resp := s.Call(context.Background(), []byte{byte(CmdReset)})
	if resp.Status != StatusSuccess {
		t.Fatalf("expected success, got 0x%02x", resp.Status)
	}
	if len(resp.Body) != 0 {
		t.Errorf("expected empty body, got %x", resp.Body)
	}
}

func TestUnknownCommandIsInvalidCommand(t *testing.T) {
	s := newTestService()
	resp := s.Call(context.Background(), []byte{0x55})
	if resp.Status != StatusInvalidCommand {
		t.Fatalf("expected InvalidCommand, got 0x%02x", resp.Status)
	}
}

func TestMakeCredentialDecodesFullRequest(t *testing.T) {
	req := MakeCredentialRequest{
		ClientDataHash: []byte{1, 2, 3, 4},
		RP:             RelyingPartyEntity{ID: "example.com", Name: "Example"},
		User:           UserEntity{ID: []byte{9, 9}, Name: "alice"},
		PubKeyCredParams: []CredentialParam{
			{Type: "public-key", Alg: -7},
		},
	}
	body, err := cborcodec.Marshal(req)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	payload := append([]byte{byte(CmdMakeCredential)}, body...)
	s := newTestService()
	resp := s.Call(context.Background(), payload)

	// Execution is stubbed: the request must decode cleanly and the
	// service must report a well-defined denial, not a CBOR failure.
	if resp.Status == StatusInvalidCbor {
		t.Fatalf("expected clean decode, got InvalidCbor")
	}
}

func TestMakeCredentialRejectsUnsupportedAlgorithm(t *testing.T) {
	req := MakeCredentialRequest{
		ClientDataHash:   []byte{1},
		RP:               RelyingPartyEntity{ID: "example.com"},
		User:             UserEntity{ID: []byte{1}},
		PubKeyCredParams: []CredentialParam{{Type: "public-key", Alg: -257}},
	}
	body, _ := cborcodec.Marshal(req)
	payload := append([]byte{byte(CmdMakeCredential)}, body...)

	s := newTestService()
	resp := s.Call(context.Background(), payload)
	if resp.Status != StatusUnsupportedAlgorithm {
		t.Fatalf("expected UnsupportedAlgorithm, got 0x%02x", resp.Status)
	}
}

func TestGetAssertionNoCredentials(t *testing.T) {
	req := GetAssertionRequest{RPID: "example.com", ClientDataHash: []byte{1, 2}}
	body, _ := cborcodec.Marshal(req)
	payload := append([]byte{byte(CmdGetAssertion)}, body...)

	s := newTestService()
	resp := s.Call(context.Background(), payload)
	if resp.Status != StatusNoCredentials {
		t.Fatalf("expected NoCredentials, got 0x%02x", resp.Status)
	}
}

func TestClientPINReportsNotSet(t *testing.T) {
	req := ClientPINRequest{SubCommand: 1}
	body, _ := cborcodec.Marshal(req)
	payload := append([]byte{byte(CmdClientPIN)}, body...)

	s := newTestService()
	resp := s.Call(context.Background(), payload)
	if resp.Status != StatusPinNotSet {
		t.Fatalf("expected PinNotSet, got 0x%02x", resp.Status)
	}
}

func TestInvalidCborPayloadReportsInvalidCbor(t *testing.T) {
	s := newTestService()
	resp := s.Call(context.Background(), []byte{byte(CmdGetAssertion), 0xFF, 0xFF})
	if resp.Status != StatusInvalidCbor {
		t.Fatalf("expected InvalidCbor, got 0x%02x", resp.Status)
	}
}
