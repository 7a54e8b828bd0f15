package cose

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"testing"
)

func TestSupportedAlgorithms(t *testing.T) {
	f := NewFacade()
	if !f.IsSupported(AlgorithmES256) {
		t.Errorf("expected ES256 to be supported")
	}
	if !f.IsSupported(AlgorithmEdDSA) {
		t.Errorf("expected EdDSA to be supported")
	}
	if f.IsSupported(Algorithm(-257)) {
		t.Errorf("RS256 (-257) should not be supported")
	}
}

func TestGenerateAndSignES256(t *testing.T) {
	f := NewFacade()
	kp, err := f.GenerateKeyPair(AlgorithmES256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kp.Public.KeyType != KeyTypeEC2 || kp.Public.Curve != CurveP256 {
		t.Fatalf("unexpected public key shape: %+v", kp.Public)
	}

	data := []byte("attestation payload")
	sig, err := f.Sign(kp, data)
	if err != nil {
		t.Fatalf("unexpected signing error: %v", err)
	}

	pub := &ecdsa.PublicKey{Curve: kp.ecdsaPriv.Curve, X: kp.ecdsaPriv.X, Y: kp.ecdsaPriv.Y}
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		t.Errorf("signature failed to verify")
	}
}

func TestGenerateAndSignEdDSA(t *testing.T) {
	f := NewFacade()
	kp, err := f.GenerateKeyPair(AlgorithmEdDSA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kp.Public.KeyType != KeyTypeOKP || kp.Public.Curve != CurveEd25519 {
		t.Fatalf("unexpected public key shape: %+v", kp.Public)
	}

	data := []byte("attestation payload")
	sig, err := f.Sign(kp, data)
	if err != nil {
		t.Fatalf("unexpected signing error: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(kp.Public.X), data, sig) {
		t.Errorf("signature failed to verify")
	}
}
