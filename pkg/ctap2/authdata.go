package ctap2

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"ctap2d/pkg/cborcodec"
)

// AuthDataFlags is the bitfield occupying byte 32 of authenticator data.
type AuthDataFlags byte

const (
	FlagUserPresent    AuthDataFlags = 1 << 0
	FlagUserVerified   AuthDataFlags = 1 << 2
	FlagAttestedCredentialData AuthDataFlags = 1 << 6
	FlagExtensionData  AuthDataFlags = 1 << 7
)

// AttestedCredentialData is embedded in authenticator data only during
// MakeCredential.
type AttestedCredentialData struct {
	AAGUID          Aaguid
	CredentialID    []byte
	CredentialPubKeyCOSE []byte // CBOR-encoded COSE_Key
}

// AuthenticatorData is the binary (non-CBOR) structure WebAuthn signs over:
// rpIdHash(32) | flags(1) | signCount(4, BE) | [attestedCredentialData].
// This is a fixed byte layout, not a keyed-CBOR record — CTAP2 carries it
// as an opaque byte string.
type AuthenticatorData struct {
	RPIDHash     [32]byte
	Flags        AuthDataFlags
	SignCount    uint32
	AttestedCred *AttestedCredentialData
}

// HashRPID returns the SHA-256 digest WebAuthn uses as the RP ID hash.
func HashRPID(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

// Encode serializes the authenticator data to its exact wire layout.
func (a *AuthenticatorData) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(a.RPIDHash[:])
	buf.WriteByte(byte(a.Flags))

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], a.SignCount)
	buf.Write(countBuf[:])

	if a.AttestedCred != nil {
		buf.Write(a.AttestedCred.AAGUID[:])

		var idLen [2]byte
		binary.BigEndian.PutUint16(idLen[:], uint16(len(a.AttestedCred.CredentialID)))
		buf.Write(idLen[:])
		buf.Write(a.AttestedCred.CredentialID)

		if len(a.AttestedCred.CredentialPubKeyCOSE) == 0 {
			return nil, fmt.Errorf("ctap2: attested credential data missing COSE public key")
		}
		buf.Write(a.AttestedCred.CredentialPubKeyCOSE)
	}

	return buf.Bytes(), nil
}

// coseKeyEC2 is the wire shape of an EC2 COSE_Key (ES256), integer-keyed
// per RFC 9053 §7.1.
type coseKeyEC2 struct {
	KeyType int    `cbor:"1,keyasint"`
	Alg     int32  `cbor:"3,keyasint"`
	Curve   int    `cbor:"-1,keyasint"`
	X       []byte `cbor:"-2,keyasint"`
	Y       []byte `cbor:"-3,keyasint"`
}

// coseKeyOKP is the wire shape of an OKP COSE_Key (EdDSA).
type coseKeyOKP struct {
	KeyType int    `cbor:"1,keyasint"`
	Alg     int32  `cbor:"3,keyasint"`
	Curve   int    `cbor:"-1,keyasint"`
	X       []byte `cbor:"-2,keyasint"`
}

// EncodeCOSEPublicKey serializes a cose.PublicKey-shaped value into the
// CBOR COSE_Key byte string embedded in attested credential data.
func EncodeCOSEPublicKey(keyType int, alg int32, curve int, x, y []byte) ([]byte, error) {
	if y == nil {
		return cborcodec.Marshal(coseKeyOKP{KeyType: keyType, Alg: alg, Curve: curve, X: x})
	}
	return cborcodec.Marshal(coseKeyEC2{KeyType: keyType, Alg: alg, Curve: curve, X: x, Y: y})
}
