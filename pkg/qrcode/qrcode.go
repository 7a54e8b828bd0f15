// Package qrcode builds and renders the caBLE v2 advertisement QR code
// (D1): an ECDH identity key and QR secret encoded as a small CBOR map,
// digit-packed into a "FIDO:/" URL a phone's camera can scan.
package qrcode

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"
)

const cborMajorByteString = 2

// assignedTunnelServerDomains mirrors the browser's hard-coded tunnel
// server allowlist, referenced by index in the QR payload (key 2).
var assignedTunnelServerDomains = []string{"cable.ua5v.com", "cable.auth.com"}

// QRData is the caBLE v2 advertisement: a compressed P-256 identity public
// key and a 16-byte QR secret, plus the private key and tunnel URL kept
// locally for the subsequent handshake.
type QRData struct {
	PublicKey []byte // 33 bytes, compressed P-256 point
	QRSecret  []byte // 16 bytes

	PrivateKey []byte
	TunnelURL  string
}

// compressECKey compresses a P-256 public key to its 33-byte SEC1 form.
func compressECKey(publicKey *ecdsa.PublicKey) [33]byte {
	var compressed [33]byte
	if publicKey.Y.Bit(0) == 0 {
		compressed[0] = 0x02
	} else {
		compressed[0] = 0x03
	}
	xBytes := publicKey.X.Bytes()
	copy(compressed[33-len(xBytes):], xBytes)
	return compressed
}

// GenerateQRData creates a fresh identity key and QR secret for one
// hybrid transport pairing attempt.
func GenerateQRData() (*QRData, error) {
	var qrSecret [16]byte
	if _, err := rand.Read(qrSecret[:]); err != nil {
		return nil, fmt.Errorf("qrcode: generate QR secret: %w", err)
	}

	identityKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("qrcode: generate identity key: %w", err)
	}
	compressed := compressECKey(&identityKey.PublicKey)
	privateKey := identityKey.D.FillBytes(make([]byte, 32))

	return &QRData{
		PublicKey:  compressed[:],
		QRSecret:   qrSecret[:],
		PrivateKey: privateKey,
		TunnelURL:  assignedTunnelServerDomains[0],
	}, nil
}

// digitEncode packs bytes into a decimal digit string, 7 bytes at a time,
// per the caBLE v2 QR encoding (keeps the QR code a pure numeric string,
// which scans more reliably than mixed-case alphanumeric).
func digitEncode(d []byte) string {
	const chunkSize = 7
	const chunkDigits = 17
	const zeros = "00000000000000000"

	var ret string
	for len(d) >= chunkSize {
		var chunk [8]byte
		copy(chunk[:], d[:chunkSize])
		v := strconv.FormatUint(binary.LittleEndian.Uint64(chunk[:]), 10)
		ret += zeros[:chunkDigits-len(v)]
		ret += v
		d = d[chunkSize:]
	}

	if len(d) != 0 {
		// partialChunkDigits packs, per hex nibble, the digit count needed
		// to encode each trailing length from 6 bytes down to zero: 15,
		// 13, 10, 8, 5, 3, 0.
		const partialChunkDigits = 0x0fda8530
		digits := 15 & (partialChunkDigits >> (4 * len(d)))
		var chunk [8]byte
		copy(chunk[:], d)
		v := strconv.FormatUint(binary.LittleEndian.Uint64(chunk[:]), 10)
		ret += zeros[:digits-len(v)]
		ret += v
	}
	return ret
}

// cborEncodeInt64 encodes a non-negative int64 as a CBOR unsigned integer.
func cborEncodeInt64(value int64) []byte {
	switch {
	case value < 24:
		return []byte{byte(value)}
	case value < 256:
		return []byte{0x18, byte(value)}
	case value < 65536:
		return []byte{0x19, byte(value >> 8), byte(value)}
	case value < 4294967296:
		return []byte{0x1a, byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
	default:
		return []byte{0x1b,
			byte(value >> 56), byte(value >> 48), byte(value >> 40), byte(value >> 32),
			byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}
	}
}

// EncodeCableV2URL renders QRData as a "FIDO:/"-prefixed digit string.
func EncodeCableV2URL(qrData *QRData) (string, error) {
	if len(qrData.PublicKey) != 33 {
		return "", fmt.Errorf("qrcode: public key must be 33 bytes, got %d", len(qrData.PublicKey))
	}
	if len(qrData.QRSecret) != 16 {
		return "", fmt.Errorf("qrcode: QR secret must be 16 bytes, got %d", len(qrData.QRSecret))
	}

	var compressedPublicKey [33]byte
	var qrSecret [16]byte
	copy(compressedPublicKey[:], qrData.PublicKey)
	copy(qrSecret[:], qrData.QRSecret)

	return "FIDO:/" + digitEncode(encodeQRContents(&compressedPublicKey, &qrSecret)), nil
}

// encodeQRContents builds the CBOR map carried in the QR code: 0=public
// key, 1=QR secret, 2=number of known tunnel domains, 3=current time,
// 4=can-perform-state-assisted-transaction flag, 5=supported operations.
func encodeQRContents(compressedPublicKey *[33]byte, qrSecret *[16]byte) []byte {
	numMapElements := 6
	var randByte [1]byte
	rand.Reader.Read(randByte[:])
	extraKey := randByte[0]&3 == 0
	if extraKey {
		numMapElements++
	}

	var cbor []byte
	cbor = append(cbor, 0xa0+byte(numMapElements))
	cbor = append(cbor, 0)
	cbor = append(cbor, (cborMajorByteString<<5)|24, 33)
	cbor = append(cbor, compressedPublicKey[:]...)
	cbor = append(cbor, 1)
	cbor = append(cbor, (cborMajorByteString<<5)|16)
	cbor = append(cbor, qrSecret[:]...)

	cbor = append(cbor, 2)
	n := len(assignedTunnelServerDomains)
	if n > 24 {
		panic("qrcode: tunnel domain list too large for single-byte CBOR encoding")
	}
	cbor = append(cbor, byte(n))

	cbor = append(cbor, 3)
	cbor = append(cbor, cborEncodeInt64(time.Now().Unix())...)

	cbor = append(cbor, 4)
	cbor = append(cbor, 0xf4) // false

	cbor = append(cbor, 5)
	cbor = append(cbor, (3<<5)|2, 'g', 'a') // "ga": getAssertion

	if extraKey {
		cbor = append(cbor, 0x19, 0xff, 0xff, 0)
	}
	return cbor
}

// DisplayQR renders the QR code and connection details to the terminal.
func DisplayQR(qrData *QRData) error {
	fidoURL, err := EncodeCableV2URL(qrData)
	if err != nil {
		return fmt.Errorf("qrcode: encode caBLE v2 URL: %w", err)
	}

	qr, err := qrcode.New(fidoURL, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qrcode: create QR code: %w", err)
	}

	fmt.Println("caBLE v2 hybrid transport QR code:")
	fmt.Println("Scan this with your phone's camera to begin pairing.")
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("Tunnel URL: %s\n", qrData.TunnelURL)

	return nil
}

// ValidateQRData checks QRData field lengths before it is encoded.
func ValidateQRData(qrData *QRData) error {
	if len(qrData.PublicKey) != 33 {
		return fmt.Errorf("qrcode: invalid public key length: expected 33, got %d", len(qrData.PublicKey))
	}
	if len(qrData.QRSecret) != 16 {
		return fmt.Errorf("qrcode: invalid QR secret length: expected 16, got %d", len(qrData.QRSecret))
	}
	return nil
}
