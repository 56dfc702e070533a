package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "meter-1", false},
		{"with dots and colons", "site.a:meter_02", false},
		{"uppercase", "Meter-1", false},
		{"empty", "", true},
		{"topic level separator", "a/b", true},
		{"topic wildcard plus", "a+b", true},
		{"topic wildcard hash", "a#b", true},
		{"space", "meter 1", true},
		{"too long", strings.Repeat("a", maxIDLength+1), true},
		{"max length", strings.Repeat("a", maxIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidID) {
				t.Errorf("ValidateID(%q) error = %v, want ErrInvalidID", tt.id, err)
			}
		})
	}
}

func TestValidateDevice(t *testing.T) {
	valid := func() *Device {
		return &Device{ID: "meter-1", Name: "Meter 1", Protocol: ProtocolMQTT}
	}

	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"valid mqtt", func(d *Device) {}, nil},
		{"valid rest", func(d *Device) { d.Protocol = ProtocolREST }, nil},
		{"nil checked separately", nil, ErrInvalidDevice},
		{"bad id", func(d *Device) { d.ID = "a/b" }, ErrInvalidID},
		{"blank name", func(d *Device) { d.Name = "   " }, ErrInvalidName},
		{"name too long", func(d *Device) { d.Name = strings.Repeat("x", maxNameLength+1) }, ErrInvalidName},
		{"unknown protocol", func(d *Device) { d.Protocol = "modbus" }, ErrInvalidProtocol},
		{"empty protocol", func(d *Device) { d.Protocol = "" }, ErrInvalidProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d *Device
			if tt.mutate != nil {
				d = valid()
				tt.mutate(d)
			}

			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	if p, err := ParseProtocol("mqtt"); err != nil || p != ProtocolMQTT {
		t.Errorf("ParseProtocol(mqtt) = %v, %v", p, err)
	}
	if p, err := ParseProtocol("rest"); err != nil || p != ProtocolREST {
		t.Errorf("ParseProtocol(rest) = %v, %v", p, err)
	}
	if _, err := ParseProtocol("zigbee"); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("ParseProtocol(zigbee) error = %v, want ErrInvalidProtocol", err)
	}
}
