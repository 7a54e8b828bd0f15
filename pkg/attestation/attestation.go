// Package attestation persists MakeCredential results produced over the
// hybrid transport (D5): the desktop side of a caBLE v2 pairing has no
// credential store of its own, so a completed attestation is written to
// disk as the durable record of what the phone vouched for.
package attestation

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"ctap2d/pkg/ctap2"
)

// Record is the durable attestation a hybrid transport session produced:
// the client data it was signed over, plus the authenticator's response.
type Record struct {
	RequestID      []byte                    `json:"request_id"`
	Timestamp      time.Time                 `json:"timestamp"`
	ClientDataHash []byte                    `json:"client_data_hash"`
	Format         string                    `json:"fmt"`
	AuthData       []byte                    `json:"auth_data"`
	Statement      ctap2.AttestationStatement `json:"att_stmt"`
}

// NewRecord builds a Record from a completed MakeCredentialResponse.
func NewRecord(requestID, clientDataHash []byte, resp ctap2.MakeCredentialResponse) *Record {
	return &Record{
		RequestID:      requestID,
		Timestamp:      time.Now(),
		ClientDataHash: clientDataHash,
		Format:         resp.Format,
		AuthData:       resp.AuthData,
		Statement:      resp.AttestationStatement,
	}
}

// SaveToFile saves an attestation record to a JSON file.
func SaveToFile(record *Record, filename string) error {
	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("attestation: marshal record: %w", err)
	}
	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("attestation: write %s: %w", filename, err)
	}
	log.Printf("attestation: saved record to %s", filename)
	return nil
}

// LoadFromFile loads an attestation record from a JSON file.
func LoadFromFile(filename string) (*Record, error) {
	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("attestation: read %s: %w", filename, err)
	}
	var record Record
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("attestation: unmarshal %s: %w", filename, err)
	}
	return &record, nil
}

// Validate checks that a record has the fields a usable attestation needs.
func Validate(record *Record) error {
	if len(record.RequestID) == 0 {
		return fmt.Errorf("attestation: request ID cannot be empty")
	}
	if record.Timestamp.IsZero() {
		return fmt.Errorf("attestation: timestamp cannot be zero")
	}
	if len(record.ClientDataHash) == 0 {
		return fmt.Errorf("attestation: client data hash cannot be empty")
	}
	if record.Format == "" {
		return fmt.Errorf("attestation: format cannot be empty")
	}
	return nil
}
