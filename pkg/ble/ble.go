// Package ble implements BLE discovery for the caBLE v2 hybrid transport
// (D2): it scans for the phone's encrypted service data advertisement to
// learn where to dial the tunnel service.
package ble

import (
	"context"
	"fmt"
	"log"

	"tinygo.org/x/bluetooth"
)

const (
	// FIDOServiceUUID is the 16-bit CTAP service UUID (0xFFFD).
	FIDOServiceUUID = "0000fffd-0000-1000-8000-00805f9b34fb"
	// CableServiceUUID is the alternate caBLE service UUID some phones use.
	CableServiceUUID = "0000fff9-0000-1000-8000-00805f9b34fb"
)

// TunnelInfo carries the routing information recovered from a phone's
// encrypted BLE service data, enough to dial the tunnel service (D3).
type TunnelInfo struct {
	TunnelURL           string
	ConnectionNonce     []byte
	RoutingID           []byte
	TunnelServiceID     []byte
	EncodedTunnelDomain uint16
}

// Scanner watches for a phone's caBLE v2 service data advertisement. In
// the hybrid transport, the phone advertises and the desktop scans: there
// is no desktop-side advertiser role to implement.
type Scanner struct {
	qrSecret []byte
	running  bool
	adapter  *bluetooth.Adapter
}

// NewScanner creates a BLE scanner seeded with the QR secret.
func NewScanner(qrSecret []byte) (*Scanner, error) {
	if len(qrSecret) != 16 {
		return nil, fmt.Errorf("ble: QR secret must be 16 bytes, got %d", len(qrSecret))
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable bluetooth: %w", err)
	}
	return &Scanner{qrSecret: qrSecret, adapter: adapter}, nil
}

// IsScanning reports whether the scanner is active.
func (s *Scanner) IsScanning() bool { return s.running }

// StopScanning halts an in-progress scan.
func (s *Scanner) StopScanning() {
	if !s.running {
		return
	}
	if err := s.adapter.StopScan(); err != nil {
		log.Printf("ble: stop scan: %v", err)
	}
	s.running = false
	log.Println("ble: scanning stopped")
}

// WaitForTunnelAdvertisement scans until a phone's caBLE v2 service data is
// found, decrypted, and parsed, or ctx expires.
func (s *Scanner) WaitForTunnelAdvertisement(ctx context.Context) (*TunnelInfo, error) {
	if s.running {
		return nil, fmt.Errorf("ble: scanner already running")
	}
	s.running = true
	defer func() { s.running = false }()

	fidoUUID, err := bluetooth.ParseUUID(FIDOServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse FIDO service UUID: %w", err)
	}
	cableUUID, err := bluetooth.ParseUUID(CableServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse caBLE service UUID: %w", err)
	}

	found := make(chan *TunnelInfo, 1)
	scanErr := make(chan error, 1)
	decryptor := NewCableV2Decryptor(s.qrSecret)

	go func() {
		err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			payload := result.AdvertisementPayload
			if !payload.HasServiceUUID(fidoUUID) && !payload.HasServiceUUID(cableUUID) {
				return
			}

			serviceData := extractServiceData(payload, fidoUUID, cableUUID)
			if len(serviceData) != CableV2AdvertLength {
				return
			}

			plaintext, err := decryptor.DecryptServiceData(serviceData)
			if err != nil {
				log.Printf("ble: candidate advertisement failed decryption: %v", err)
				return
			}
			nonce, routingID, tunnelService, _, err := ParseDecryptedServiceData(plaintext)
			if err != nil {
				log.Printf("ble: failed to parse decrypted service data: %v", err)
				return
			}

			info := &TunnelInfo{
				TunnelURL:           tunnelURLForService(tunnelService),
				ConnectionNonce:     nonce,
				RoutingID:           routingID,
				TunnelServiceID:     tunnelService,
				EncodedTunnelDomain: uint16(tunnelService[0]) | uint16(tunnelService[1])<<8,
			}
			select {
			case found <- info:
			default:
			}
		})
		if err != nil {
			select {
			case scanErr <- err:
			case <-ctx.Done():
			}
		}
	}()

	select {
	case info := <-found:
		s.adapter.StopScan()
		return info, nil
	case err := <-scanErr:
		return nil, fmt.Errorf("ble: scan failed: %w", err)
	case <-ctx.Done():
		s.adapter.StopScan()
		return nil, ctx.Err()
	}
}

func extractServiceData(payload bluetooth.AdvertisementPayload, uuids ...bluetooth.UUID) []byte {
	for _, entry := range payload.ServiceData() {
		for _, uuid := range uuids {
			if entry.UUID == uuid {
				return entry.Data
			}
		}
	}
	return nil
}

// tunnelURLForService maps the 2-byte tunnel service identifier from the
// decrypted advertisement to a tunnel server domain.
func tunnelURLForService(tunnelService []byte) string {
	if len(tunnelService) >= 1 {
		switch tunnelService[0] {
		case 0x01:
			return "cable.auth.com"
		}
	}
	return "cable.ua5v.com"
}
