package protocol

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewManifest(t *testing.T) {
	tests := []struct {
		name          string
		version       uint32
		payloadSize   int
		targetAddress uint64
		want          *Manifest
		wantErr       bool
		errMsg        string
	}{
		{
			name:          "typical firmware",
			version:       1,
			payloadSize:   1000,
			targetAddress: 0x08008000,
			want: &Manifest{
				Version:       1,
				PayloadSize:   1000,
				TargetAddress: 0x08008000,
			},
		},
		{
			name:          "maximum field values",
			version:       math.MaxUint32,
			payloadSize:   math.MaxUint32,
			targetAddress: math.MaxUint32,
			want: &Manifest{
				Version:       math.MaxUint32,
				PayloadSize:   math.MaxUint32,
				TargetAddress: math.MaxUint32,
			},
		},
		{
			name:          "address overflow",
			version:       1,
			payloadSize:   16,
			targetAddress: 0x1_0000_0000,
			wantErr:       true,
			errMsg:        "target address",
		},
		{
			name:          "payload size overflow",
			version:       1,
			payloadSize:   math.MaxUint32 + 1,
			targetAddress: 0,
			wantErr:       true,
			errMsg:        "payload size",
		},
		{
			name:          "negative payload size",
			version:       1,
			payloadSize:   -1,
			targetAddress: 0,
			wantErr:       true,
			errMsg:        "negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewManifest(tt.version, tt.payloadSize, tt.targetAddress)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !errors.Is(err, ErrFieldOverflow) {
					t.Errorf("errors.Is(err, ErrFieldOverflow) = false for %v", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewManifest() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManifestMarshalBinary(t *testing.T) {
	m, err := NewManifest(1, 1000, 0x08008000)
	if err != nil {
		t.Fatalf("NewManifest() error: %v", err)
	}

	frame, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error: %v", err)
	}

	if len(frame) != ManifestSize {
		t.Fatalf("frame length = %d, want %d", len(frame), ManifestSize)
	}

	wantHeader := []byte{
		0x01, 0x00, 0x00, 0x00, // version
		0xE8, 0x03, 0x00, 0x00, // payload size 1000
		0x00, 0x80, 0x00, 0x08, // target address 0x08008000
	}
	if !bytes.Equal(frame[:ManifestHeaderSize], wantHeader) {
		t.Errorf("header = % X, want % X", frame[:ManifestHeaderSize], wantHeader)
	}

	if !bytes.Equal(frame[ManifestHeaderSize:], make([]byte, SignatureSize)) {
		t.Error("unsigned manifest should carry an all-zero signature block")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	for _, m := range []*Manifest{
		{Version: 1, PayloadSize: 1000, TargetAddress: 0x08008000},
		{Version: 0x00010402, PayloadSize: 0, TargetAddress: 0},
		{Version: math.MaxUint32, PayloadSize: math.MaxUint32, TargetAddress: math.MaxUint32},
	} {
		sig := bytes.Repeat([]byte{0xA5}, SignatureSize)
		if err := m.SetSignature(sig); err != nil {
			t.Fatalf("SetSignature() error: %v", err)
		}

		frame, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary() error: %v", err)
		}

		got, err := ParseManifest(frame)
		if err != nil {
			t.Fatalf("ParseManifest() error: %v", err)
		}

		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParseManifestInvalidLength(t *testing.T) {
	for _, n := range []int{0, ManifestSize - 1, ManifestSize + 1} {
		if _, err := ParseManifest(make([]byte, n)); err == nil {
			t.Errorf("ParseManifest(%d bytes) expected error", n)
		}
	}
}

func TestSigningMessage(t *testing.T) {
	m := &Manifest{Version: 2, PayloadSize: 4, TargetAddress: 0x100}
	digest := bytes.Repeat([]byte{0x11}, DigestSize)
	tag := bytes.Repeat([]byte{0x22}, 16)

	msg := m.SigningMessage(digest, tag)

	if len(msg) != ManifestHeaderSize+DigestSize+16 {
		t.Fatalf("message length = %d, want %d", len(msg), ManifestHeaderSize+DigestSize+16)
	}

	frame, _ := m.MarshalBinary()
	if !bytes.Equal(msg[:ManifestHeaderSize], frame[:ManifestHeaderSize]) {
		t.Error("signing message should start with the encoded header")
	}
	if !bytes.Equal(msg[ManifestHeaderSize:ManifestHeaderSize+DigestSize], digest) {
		t.Error("signing message should carry the digest after the header")
	}
	if !bytes.Equal(msg[ManifestHeaderSize+DigestSize:], tag) {
		t.Error("signing message should end with the tag")
	}
}

func TestSetSignature(t *testing.T) {
	m := &Manifest{}
	if m.Signed() {
		t.Error("new manifest reports Signed() = true")
	}

	if err := m.SetSignature([]byte{0x01}); err == nil {
		t.Error("expected error for short signature")
	}

	sig := make([]byte, SignatureSize)
	sig[63] = 0x01
	if err := m.SetSignature(sig); err != nil {
		t.Fatalf("SetSignature() error: %v", err)
	}
	if !m.Signed() {
		t.Error("Signed() = false after SetSignature")
	}
}

func TestResponseName(t *testing.T) {
	tests := []struct {
		b    byte
		want string
	}{
		{Ack, "ack"},
		{Nack, "nack"},
		{0x42, "unexpected response 0x42"},
	}

	for _, tt := range tests {
		if got := ResponseName(tt.b); got != tt.want {
			t.Errorf("ResponseName(0x%02X) = %q, want %q", tt.b, got, tt.want)
		}
	}
}

func TestUnitKindString(t *testing.T) {
	if UnitManifest.String() != "manifest" || UnitChunk.String() != "chunk" || UnitDigest.String() != "digest" {
		t.Errorf("unexpected unit names: %s %s %s", UnitManifest, UnitChunk, UnitDigest)
	}
	if got := UnitKind(9).String(); got != "unit(9)" {
		t.Errorf("UnitKind(9).String() = %q", got)
	}
}
