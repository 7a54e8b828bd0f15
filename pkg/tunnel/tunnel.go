// Package tunnel implements the caBLE v2 tunnel client (D3): it dials the
// tunnel service's "fido.cable" WebSocket, runs the desktop-speaks-first
// handshake, and exposes the resulting connection as an encrypted,
// message-oriented duplex channel.
package tunnel

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Client handles tunnel service communication
type Client struct {
	tunnelURL    string
	privateKey   []byte
	publicKey    []byte
	qrSecret     []byte
	tunnelID     []byte
	routingID    []byte
	conn         *websocket.Conn
	handshakeKey []byte
}

// Connection represents a tunnel connection
type Connection struct {
	conn       *websocket.Conn
	encryptKey []byte
	decryptKey []byte
	sequenceNo uint64
}

// NewClient creates a new tunnel client
func NewClient(tunnelURL string, privateKey []byte, publicKey []byte, qrSecret []byte) (*Client, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privateKey))
	}
	if len(publicKey) != 33 {
		return nil, fmt.Errorf("public key must be 33 bytes, got %d", len(publicKey))
	}
	if len(qrSecret) != 16 {
		return nil, fmt.Errorf("QR secret must be 16 bytes, got %d", len(qrSecret))
	}

	// Derive tunnel ID from QR secret according to caBLE specification
	// This is the 128-bit identifier that the tunnel service recognizes
	tunnelID, err := deriveTunnelID(qrSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive tunnel ID: %w", err)
	}

	return &Client{
		tunnelURL:  tunnelURL,
		privateKey: privateKey,
		publicKey:  publicKey,
		qrSecret:   qrSecret,
		tunnelID:   tunnelID,
		routingID:  nil, // Will be set from BLE advertisement
	}, nil
}

// deriveTunnelID derives the 128-bit tunnel ID from the QR secret via HKDF
// with keyPurposeTunnelID = 2, per the caBLE v2 key schedule.
func deriveTunnelID(qrSecret []byte) ([]byte, error) {
	purpose := [4]byte{2, 0, 0, 0}
	hkdfReader := hkdf.New(sha256.New, qrSecret, nil, purpose[:])

	tunnelID := make([]byte, 16)
	if _, err := io.ReadFull(hkdfReader, tunnelID); err != nil {
		return nil, fmt.Errorf("tunnel: derive tunnel ID: %w", err)
	}
	return tunnelID, nil
}

// WaitForConnection dials the tunnel service and performs the desktop-
// speaks-first handshake. The connect path is
// /cable/connect/<routing-id-hex>/<tunnel-id-hex>, per the caBLE v2 tunnel
// service protocol.
func (c *Client) WaitForConnection(ctx context.Context) (*Connection, error) {
	domain := strings.TrimPrefix(strings.TrimPrefix(c.tunnelURL, "wss://"), "ws://")
	routingIDHex := hex.EncodeToString(c.routingID)
	tunnelIDHex := hex.EncodeToString(c.tunnelID)
	wsURL := fmt.Sprintf("wss://%s/cable/connect/%s/%s", domain, routingIDHex, tunnelIDHex)

	log.Printf("tunnel: dialing %s", wsURL)
	return c.attemptConnection(ctx, wsURL)
}

// attemptConnection dials wsURL and runs the handshake over the resulting
// WebSocket.
func (c *Client) attemptConnection(ctx context.Context, wsURL string) (*Connection, error) {
	dialer := &websocket.Dialer{
		Subprotocols: []string{"fido.cable"},
	}

	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("tunnel: connect to %s: %w (status %s)", wsURL, err, resp.Status)
		}
		return nil, fmt.Errorf("tunnel: connect to %s: %w", wsURL, err)
	}
	c.conn = conn

	handshakeConn, err := c.performHandshake(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tunnel: handshake: %w", err)
	}
	return handshakeConn, nil
}

// performHandshake performs the desktop-speaks-first handshake: a message
// sealed with ChaCha20-Poly1305 under an HKDF-derived handshake key, then
// session key derivation from the phone's reply.
func (c *Client) performHandshake(ctx context.Context) (*Connection, error) {
	// Derive handshake key using HKDF
	handshakeKey, err := c.deriveHandshakeKey()
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	c.handshakeKey = handshakeKey

	// Desktop-speaks-first handshake
	// Send initial handshake message
	initialMessage, err := c.createInitialHandshakeMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to create initial message: %w", err)
	}

	err = c.conn.WriteMessage(websocket.BinaryMessage, initialMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to send initial handshake: %w", err)
	}

	// Wait for response from phone
	_, responseMessage, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake response: %w", err)
	}

	// Process handshake response and derive session keys
	encryptKey, decryptKey, err := c.processHandshakeResponse(responseMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to process handshake response: %w", err)
	}

	return &Connection{
		conn:       c.conn,
		encryptKey: encryptKey,
		decryptKey: decryptKey,
		sequenceNo: 0,
	}, nil
}

// deriveHandshakeKey derives the handshake key using HKDF
func (c *Client) deriveHandshakeKey() ([]byte, error) {
	// Use QR secret as input key material
	hkdfReader := hkdf.New(sha256.New, c.qrSecret, nil, []byte("caBLE v2 handshake"))
	
	key := make([]byte, 32)
	_, err := hkdfReader.Read(key)
	if err != nil {
		return nil, fmt.Errorf("HKDF failed: %w", err)
	}
	
	return key, nil
}

// createInitialHandshakeMessage creates the initial handshake message
func (c *Client) createInitialHandshakeMessage() ([]byte, error) {
	// Create handshake message with public key and nonce
	nonce := make([]byte, 12)
	rand.Read(nonce)
	
	// Message format: [public_key(33)] + [nonce(12)] + [encrypted_payload]
	message := make([]byte, 0, 33+12+32)
	message = append(message, c.publicKey...)
	message = append(message, nonce...)
	
	// Create encrypted payload using handshake key
	cipher, err := chacha20poly1305.New(c.handshakeKey)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	
	payload := []byte("desktop-handshake-v2")
	encryptedPayload := cipher.Seal(nil, nonce, payload, c.publicKey)
	message = append(message, encryptedPayload...)
	
	return message, nil
}

// processHandshakeResponse processes the handshake response and derives session keys
func (c *Client) processHandshakeResponse(response []byte) ([]byte, []byte, error) {
	if len(response) < 45 { // 33 (pubkey) + 12 (nonce) + minimum encrypted data
		return nil, nil, fmt.Errorf("handshake response too short: %d bytes", len(response))
	}
	
	// Extract components
	phonePublicKey := response[:33]
	nonce := response[33:45]
	encryptedPayload := response[45:]
	
	// Decrypt payload
	cipher, err := chacha20poly1305.New(c.handshakeKey)
	if err != nil {
		return nil, nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	
	if _, err := cipher.Open(nil, nonce, encryptedPayload, phonePublicKey); err != nil {
		return nil, nil, fmt.Errorf("decryption failed: %w", err)
	}

	// Derive session keys using both public keys
	encryptKey, decryptKey, err := c.deriveSessionKeys(phonePublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("session key derivation failed: %w", err)
	}
	
	return encryptKey, decryptKey, nil
}

// deriveSessionKeys derives session keys for encryption/decryption
func (c *Client) deriveSessionKeys(phonePublicKey []byte) ([]byte, []byte, error) {
	// Combine keys for session key derivation
	sharedInfo := append(c.publicKey, phonePublicKey...)
	
	hkdfReader := hkdf.New(sha256.New, c.handshakeKey, nil, append([]byte("caBLE v2 session"), sharedInfo...))
	
	encryptKey := make([]byte, 32)
	decryptKey := make([]byte, 32)
	
	_, err := hkdfReader.Read(encryptKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt key derivation failed: %w", err)
	}
	
	_, err = hkdfReader.Read(decryptKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt key derivation failed: %w", err)
	}
	
	return encryptKey, decryptKey, nil
}

// Close closes the tunnel connection
func (c *Connection) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ReadMessage reads and decrypts a message from the tunnel connection
func (c *Connection) ReadMessage() ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("connection not established")
	}

	// Set read deadline for timeout
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	_, encryptedMessage, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	return c.decryptMessage(encryptedMessage)
}

// decryptMessage decrypts an incoming message
func (c *Connection) decryptMessage(encryptedMessage []byte) ([]byte, error) {
	if len(encryptedMessage) < 28 { // 12 (nonce) + 16 (tag) + minimum data
		return nil, fmt.Errorf("encrypted message too short: %d bytes", len(encryptedMessage))
	}

	cipher, err := chacha20poly1305.New(c.decryptKey)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	// Extract nonce and ciphertext
	nonce := encryptedMessage[:12]
	ciphertext := encryptedMessage[12:]

	// Decrypt message
	plaintext, err := cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// WriteMessage encrypts and writes a message to the tunnel connection
func (c *Connection) WriteMessage(message []byte) error {
	if c.conn == nil {
		return fmt.Errorf("connection not established")
	}

	encryptedMessage, err := c.encryptMessage(message)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, encryptedMessage)
}

// encryptMessage encrypts an outgoing message
func (c *Connection) encryptMessage(message []byte) ([]byte, error) {
	cipher, err := chacha20poly1305.New(c.encryptKey)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	// Generate nonce using sequence number
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[:8], c.sequenceNo)
	c.sequenceNo++

	// Encrypt message
	ciphertext := cipher.Seal(nil, nonce, message, nil)

	// Prepend nonce to ciphertext
	encryptedMessage := append(nonce, ciphertext...)

	return encryptedMessage, nil
}

// GetTunnelInfo returns tunnel connection information
func (c *Client) GetTunnelInfo() (string, string, string) {
	tunnelIDHex := hex.EncodeToString(c.tunnelID)
	routingIDHex := hex.EncodeToString(c.routingID)
	return c.tunnelURL, routingIDHex, tunnelIDHex
}

// SetTunnelInfo sets the routing ID recovered from the BLE advertisement.
// connectionNonce is accepted for callers that carry it alongside routingID
// but is not used here: the tunnel ID was already derived from the QR
// secret in NewClient.
func (c *Client) SetTunnelInfo(routingID, connectionNonce []byte) {
	c.routingID = routingID
	_ = connectionNonce
}