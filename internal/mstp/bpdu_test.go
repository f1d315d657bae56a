package mstp_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// TestMarshalUnmarshalRoundTrip: BPDU codec round trip
// -------------------------------------------------------------------------

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	var table mstp.VLANTable
	table[10] = 1
	cid := mstp.NewConfigID("region-a", 7, &table)

	tests := []struct {
		name string
		bpdu mstp.BPDU
	}{
		{
			name: "tcn",
			bpdu: mstp.BPDU{Version: mstp.VersionSTP, Type: mstp.TypeTCN},
		},
		{
			name: "config with tc ack",
			bpdu: mstp.BPDU{
				Version:      mstp.VersionSTP,
				Type:         mstp.TypeConfig,
				Flags:        mstp.FlagTC | mstp.FlagTCAck,
				Root:         bid(4096, 1),
				ExtPathCost:  20000,
				RegionalRoot: bid(32768, 2),
				PortID:       mstp.NewPortID(128, 3),
				MessageAge:   1,
				MaxAge:       20,
				HelloTime:    2,
				FwdDelay:     15,
			},
		},
		{
			name: "rst designated proposal",
			bpdu: mstp.BPDU{
				Version:      mstp.VersionRSTP,
				Type:         mstp.TypeRST,
				Flags:        mstp.FlagProposal.WithRole(mstp.RoleDesignated) | mstp.FlagLearning,
				Root:         bid(32768, 1),
				RegionalRoot: bid(32768, 1),
				PortID:       mstp.NewPortID(128, 1),
				MaxAge:       20,
				HelloTime:    2,
				FwdDelay:     15,
			},
		},
		{
			name: "mst with two msti messages",
			bpdu: mstp.BPDU{
				Version:       mstp.VersionMSTP,
				Type:          mstp.TypeRST,
				Flags:         mstp.Flags(0).WithRole(mstp.RoleRoot) | mstp.FlagAgreement | mstp.FlagForwarding,
				Root:          bid(4096, 1),
				ExtPathCost:   0,
				RegionalRoot:  bid(4096, 1),
				PortID:        mstp.NewPortID(128, 2),
				MaxAge:        20,
				HelloTime:     2,
				FwdDelay:      15,
				ConfigID:      cid,
				IntPathCost:   40000,
				BridgeID:      bid(32768, 9),
				RemainingHops: 18,
				MSTI: []mstp.MSTIMessage{
					{
						Flags:          mstp.FlagMaster.WithRole(mstp.RoleDesignated),
						RegionalRoot:   mstp.NewBridgeID(8192, 1, mac(4)),
						IntPathCost:    20000,
						BridgePriority: 0x80,
						PortPriority:   0x80,
						RemainingHops:  19,
					},
					{
						Flags:          mstp.Flags(0).WithRole(mstp.RoleAlternate),
						RegionalRoot:   mstp.NewBridgeID(32768, 2, mac(9)),
						BridgePriority: 0x30,
						PortPriority:   0xF0,
						RemainingHops:  20,
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, mstp.MaxBPDUSize)
			n, err := mstp.MarshalBPDU(&tt.bpdu, buf)
			if err != nil {
				t.Fatalf("MarshalBPDU: %v", err)
			}
			if n != tt.bpdu.Size() {
				t.Fatalf("MarshalBPDU wrote %d bytes, Size() = %d", n, tt.bpdu.Size())
			}

			var got mstp.BPDU
			if err := mstp.UnmarshalBPDU(buf[:n], &got); err != nil {
				t.Fatalf("UnmarshalBPDU: %v", err)
			}
			assertBPDUEqual(t, &tt.bpdu, &got)
		})
	}
}

func assertBPDUEqual(t *testing.T, want, got *mstp.BPDU) {
	t.Helper()

	if want.Version != got.Version || want.Type != got.Type || want.Flags != got.Flags {
		t.Errorf("header: got v%d %s %#02x, want v%d %s %#02x",
			got.Version, got.Type, uint8(got.Flags), want.Version, want.Type, uint8(want.Flags))
	}
	if want.Root != got.Root || want.RegionalRoot != got.RegionalRoot || want.ExtPathCost != got.ExtPathCost {
		t.Errorf("cist vector: got %s/%d/%s, want %s/%d/%s",
			got.Root, got.ExtPathCost, got.RegionalRoot, want.Root, want.ExtPathCost, want.RegionalRoot)
	}
	if want.PortID != got.PortID {
		t.Errorf("PortID = %s, want %s", got.PortID, want.PortID)
	}
	if want.MessageAge != got.MessageAge || want.MaxAge != got.MaxAge ||
		want.HelloTime != got.HelloTime || want.FwdDelay != got.FwdDelay {
		t.Errorf("times: got %d/%d/%d/%d, want %d/%d/%d/%d",
			got.MessageAge, got.MaxAge, got.HelloTime, got.FwdDelay,
			want.MessageAge, want.MaxAge, want.HelloTime, want.FwdDelay)
	}
	if want.ConfigID != got.ConfigID {
		t.Errorf("ConfigID = %+v, want %+v", got.ConfigID, want.ConfigID)
	}
	if want.IntPathCost != got.IntPathCost || want.BridgeID != got.BridgeID || want.RemainingHops != got.RemainingHops {
		t.Errorf("mst fields: got %d/%s/%d, want %d/%s/%d",
			got.IntPathCost, got.BridgeID, got.RemainingHops,
			want.IntPathCost, want.BridgeID, want.RemainingHops)
	}
	if !slices.Equal(want.MSTI, got.MSTI) {
		t.Errorf("MSTI = %+v, want %+v", got.MSTI, want.MSTI)
	}
}

// -------------------------------------------------------------------------
// TestUnmarshalValidation: Section 14.4 rejection rules
// -------------------------------------------------------------------------

// mstFrame returns an MST BPDU carrying n MSTI messages.
func mstFrame(tb testing.TB, n int) []byte {
	tb.Helper()

	b := mstp.BPDU{
		Version:       mstp.VersionMSTP,
		Type:          mstp.TypeRST,
		Root:          bid(32768, 1),
		RegionalRoot:  bid(32768, 1),
		MaxAge:        20,
		HelloTime:     2,
		FwdDelay:      15,
		BridgeID:      bid(32768, 1),
		RemainingHops: 20,
	}
	for i := range n {
		b.MSTI = append(b.MSTI, mstp.MSTIMessage{
			RegionalRoot:  mstp.NewBridgeID(32768, mstp.MSTID(i+1), mac(1)),
			RemainingHops: 20,
		})
	}
	buf := make([]byte, b.Size())
	if _, err := mstp.MarshalBPDU(&b, buf); err != nil {
		tb.Fatalf("MarshalBPDU: %v", err)
	}
	return buf
}

func TestUnmarshalValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   func(t *testing.T) []byte
		wantErr error
	}{
		{
			name:    "three bytes",
			frame:   func(*testing.T) []byte { return []byte{0, 0, 0} },
			wantErr: mstp.ErrBPDUTooShort,
		},
		{
			name:    "nonzero protocol id",
			frame:   func(*testing.T) []byte { return []byte{0, 1, 0, 0x80} },
			wantErr: mstp.ErrBadProtocolID,
		},
		{
			name: "type 0x55",
			frame: func(*testing.T) []byte {
				b := make([]byte, mstp.RSTSize)
				b[3] = 0x55
				return b
			},
			wantErr: mstp.ErrBadType,
		},
		{
			name: "rst type with version zero",
			frame: func(*testing.T) []byte {
				b := make([]byte, mstp.RSTSize)
				b[3] = uint8(mstp.TypeRST)
				return b
			},
			wantErr: mstp.ErrBadType,
		},
		{
			name: "truncated config",
			frame: func(*testing.T) []byte {
				return make([]byte, mstp.ConfigSize-1)
			},
			wantErr: mstp.ErrBPDUTooShort,
		},
		{
			name: "v3 length not a message multiple",
			frame: func(t *testing.T) []byte {
				b := mstFrame(t, 1)
				binary.BigEndian.PutUint16(b[36:38], 64+15)
				return b
			},
			wantErr: mstp.ErrBadV3Length,
		},
		{
			name: "v3 length beyond frame",
			frame: func(t *testing.T) []byte {
				b := mstFrame(t, 1)
				binary.BigEndian.PutUint16(b[36:38], 64+2*16)
				return b
			},
			wantErr: mstp.ErrLengthMismatch,
		},
		{
			name: "seventy msti messages",
			frame: func(t *testing.T) []byte {
				b := mstFrame(t, 64)
				b = append(b, make([]byte, 6*mstp.MSTIMessageSize)...)
				binary.BigEndian.PutUint16(b[36:38], uint16(64+70*mstp.MSTIMessageSize))
				return b
			},
			wantErr: mstp.ErrTooManyMSTI,
		},
		{
			name: "seventy msti declared in a short frame",
			frame: func(t *testing.T) []byte {
				b := mstFrame(t, 0)
				binary.BigEndian.PutUint16(b[36:38], uint16(64+70*mstp.MSTIMessageSize))
				return b
			},
			wantErr: mstp.ErrTooManyMSTI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var b mstp.BPDU
			err := mstp.UnmarshalBPDU(tt.frame(t), &b)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UnmarshalBPDU error = %v, want %v", err, tt.wantErr)
			}
			if mstp.DropReason(err) == "other" {
				t.Errorf("DropReason(%v) = other", err)
			}
		})
	}
}

func TestUnmarshalAcceptsLimits(t *testing.T) {
	t.Parallel()

	var b mstp.BPDU
	if err := mstp.UnmarshalBPDU(mstFrame(t, mstp.MaxMSTIMessages), &b); err != nil {
		t.Fatalf("64 messages: %v", err)
	}
	if len(b.MSTI) != mstp.MaxMSTIMessages {
		t.Fatalf("decoded %d messages, want %d", len(b.MSTI), mstp.MaxMSTIMessages)
	}
	if got := b.MSTI[63].MSTID(); got != 64 {
		t.Errorf("last message MSTID = %d, want 64", got)
	}

	// Trailing padding after the declared length is ignored.
	padded := append(mstFrame(t, 1), make([]byte, 20)...)
	if err := mstp.UnmarshalBPDU(padded, &b); err != nil || len(b.MSTI) != 1 {
		t.Fatalf("padded frame: err=%v msti=%d", err, len(b.MSTI))
	}
}

func TestUnmarshalShortMSTIsRST(t *testing.T) {
	t.Parallel()

	frame := mstFrame(t, 0)[:mstp.MSTBaseSize-1]
	var b mstp.BPDU
	if err := mstp.UnmarshalBPDU(frame, &b); err != nil {
		t.Fatalf("UnmarshalBPDU: %v", err)
	}
	if b.Version != mstp.VersionRSTP || b.IsMST() {
		t.Errorf("version = %d IsMST = %v, want RST", b.Version, b.IsMST())
	}
}

func TestUnmarshalConfigMasksFlags(t *testing.T) {
	t.Parallel()

	frame := make([]byte, mstp.ConfigSize)
	frame[4] = 0xFF
	var b mstp.BPDU
	if err := mstp.UnmarshalBPDU(frame, &b); err != nil {
		t.Fatalf("UnmarshalBPDU: %v", err)
	}
	if b.Flags != mstp.FlagTC|mstp.FlagTCAck {
		t.Errorf("Flags = %#02x, want TC|TCAck", uint8(b.Flags))
	}
}

func TestMarshalErrors(t *testing.T) {
	t.Parallel()

	b := mstp.BPDU{Version: mstp.VersionMSTP, Type: mstp.TypeRST, MSTI: make([]mstp.MSTIMessage, 65)}
	if _, err := mstp.MarshalBPDU(&b, make([]byte, 4096)); !errors.Is(err, mstp.ErrTooManyMSTI) {
		t.Errorf("65 messages: err = %v", err)
	}

	b.MSTI = nil
	if _, err := mstp.MarshalBPDU(&b, make([]byte, 10)); !errors.Is(err, mstp.ErrBufTooSmall) {
		t.Errorf("short buffer: err = %v", err)
	}
}

func TestFlagsRole(t *testing.T) {
	t.Parallel()

	for _, r := range []mstp.Role{mstp.RoleRoot, mstp.RoleDesignated, mstp.RoleAlternate, mstp.RoleMaster} {
		f := mstp.FlagTC.WithRole(r)
		if got := f.Role(); got != r {
			t.Errorf("WithRole(%s).Role() = %s", r, got)
		}
		if !f.Has(mstp.FlagTC) {
			t.Errorf("WithRole(%s) cleared TC", r)
		}
	}
	if got := mstp.Flags(0).WithRole(mstp.RoleBackup).Role(); got != mstp.RoleAlternate {
		t.Errorf("Backup encodes as %s, want Alternate", got)
	}
}

func BenchmarkUnmarshalMST(b *testing.B) {
	frame := mstFrame(b, 16)
	var out mstp.BPDU
	b.ReportAllocs()
	for b.Loop() {
		if err := mstp.UnmarshalBPDU(frame, &out); err != nil {
			b.Fatal(err)
		}
	}
}
