// Package cose is the crypto facade (C11): it enumerates supported COSE
// algorithms, generates credential key pairs, and signs data under them,
// hiding the underlying stdlib crypto packages so the authenticator service
// can be driven by a deterministic stub in tests.
package cose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Algorithm is a COSE algorithm identifier (RFC 9053), restricted here to
// the subset CTAP2 credentials commonly use.
type Algorithm int32

const (
	AlgorithmES256 Algorithm = -7  // ECDSA w/ SHA-256 over P-256
	AlgorithmEdDSA Algorithm = -8  // Ed25519
)

// KeyType is the COSE key type tag (RFC 9053 §7).
type KeyType int

const (
	KeyTypeOKP KeyType = 1
	KeyTypeEC2 KeyType = 2
)

// Curve is the COSE elliptic curve identifier.
type Curve int

const (
	CurveP256   Curve = 1
	CurveEd25519 Curve = 6
)

// PublicKey is a serialization-ready COSE public key (the subset of fields
// needed by ES256/EdDSA credentials).
type PublicKey struct {
	Algorithm Algorithm
	KeyType   KeyType
	Curve     Curve
	X, Y      []byte // EC2: both set. OKP: only X set.
}

// KeyPair couples the facade's private material with its public COSE
// representation. Private fields are unexported; only Sign and Signer use
// them.
type KeyPair struct {
	Algorithm Algorithm
	Public    PublicKey

	ecdsaPriv *ecdsa.PrivateKey
	ed25519Priv ed25519.PrivateKey
}

// Facade is the crypto facade interface the authenticator service depends
// on. The production implementation wraps Go's standard crypto packages;
// tests may substitute a deterministic stub.
type Facade interface {
	SupportedAlgorithms() []Algorithm
	IsSupported(alg Algorithm) bool
	GenerateKeyPair(alg Algorithm) (*KeyPair, error)
	Sign(kp *KeyPair, data []byte) ([]byte, error)
}

// stdlibFacade is the default Facade, backed directly by crypto/ecdsa,
// crypto/ed25519, and crypto/rand — the same stdlib primitives used
// elsewhere in this codebase for key handling.
type stdlibFacade struct {
	rand io.Reader
}

// NewFacade returns the default crypto facade, sourcing randomness from
// crypto/rand.
func NewFacade() Facade {
	return &stdlibFacade{rand: rand.Reader}
}

func (f *stdlibFacade) SupportedAlgorithms() []Algorithm {
	return []Algorithm{AlgorithmES256, AlgorithmEdDSA}
}

func (f *stdlibFacade) IsSupported(alg Algorithm) bool {
	for _, a := range f.SupportedAlgorithms() {
		if a == alg {
			return true
		}
	}
	return false
}

func (f *stdlibFacade) GenerateKeyPair(alg Algorithm) (*KeyPair, error) {
	switch alg {
	case AlgorithmES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), f.rand)
		if err != nil {
			return nil, fmt.Errorf("cose: generating ES256 key: %w", err)
		}
		return &KeyPair{
			Algorithm: alg,
			ecdsaPriv: priv,
			Public: PublicKey{
				Algorithm: alg,
				KeyType:   KeyTypeEC2,
				Curve:     CurveP256,
				X:         priv.PublicKey.X.Bytes(),
				Y:         priv.PublicKey.Y.Bytes(),
			},
		}, nil
	case AlgorithmEdDSA:
		pub, priv, err := ed25519.GenerateKey(f.rand)
		if err != nil {
			return nil, fmt.Errorf("cose: generating EdDSA key: %w", err)
		}
		return &KeyPair{
			Algorithm:   alg,
			ed25519Priv: priv,
			Public: PublicKey{
				Algorithm: alg,
				KeyType:   KeyTypeOKP,
				Curve:     CurveEd25519,
				X:         []byte(pub),
			},
		}, nil
	default:
		return nil, fmt.Errorf("cose: unsupported algorithm %d", alg)
	}
}

func (f *stdlibFacade) Sign(kp *KeyPair, data []byte) ([]byte, error) {
	switch kp.Algorithm {
	case AlgorithmES256:
		if kp.ecdsaPriv == nil {
			return nil, errors.New("cose: key pair has no ES256 private key")
		}
		digest := sha256.Sum256(data)
		sig, err := ecdsa.SignASN1(f.rand, kp.ecdsaPriv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("cose: ES256 sign: %w", err)
		}
		return sig, nil
	case AlgorithmEdDSA:
		if kp.ed25519Priv == nil {
			return nil, errors.New("cose: key pair has no EdDSA private key")
		}
		sig := ed25519.Sign(kp.ed25519Priv, data)
		return sig, nil
	default:
		return nil, fmt.Errorf("cose: unsupported algorithm %d", kp.Algorithm)
	}
}

// Signer exposes kp as a crypto.Signer for callers that want the stdlib
// interface directly (e.g. to build a tls.Certificate in future transports).
func (kp *KeyPair) Signer() crypto.Signer {
	if kp.ecdsaPriv != nil {
		return kp.ecdsaPriv
	}
	return kp.ed25519Priv
}
