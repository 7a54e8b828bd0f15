package ble

import "testing"

func TestNewScannerRejectsWrongSecretLength(t *testing.T) {
	if _, err := NewScanner(make([]byte, 15)); err == nil {
		t.Error("expected error for a 15-byte QR secret")
	}
	if _, err := NewScanner(make([]byte, 17)); err == nil {
		t.Error("expected error for a 17-byte QR secret")
	}
}

func TestTunnelURLForService(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, "cable.ua5v.com"},
		{"unknown index", []byte{0x05, 0x00}, "cable.ua5v.com"},
		{"auth.com index", []byte{0x01, 0x00}, "cable.auth.com"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := tunnelURLForService(c.in); got != c.want {
				t.Errorf("tunnelURLForService(%x) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestIsScanningDefaultsFalse(t *testing.T) {
	s := &Scanner{}
	if s.IsScanning() {
		t.Error("expected a zero-value Scanner to report not scanning")
	}
}
