package commands

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gomstp/internal/server"
)

func testPort() *server.Port {
	return &server.Port{
		Number:           1,
		Name:             "eth1",
		Enabled:          true,
		LinkType:         "auto",
		OperPointToPoint: true,
		Stats:            server.PortStats{RxMST: 3, TxMST: 7},
		Trees: []server.TreePort{
			{MSTID: 0, Port: 1, PortName: "eth1", PortID: "128.1", Role: "Root", State: "Forwarding",
				ExternalPathCost: 20000, Learning: true, Forwarding: true, Agreed: true},
			{MSTID: 10, Port: 1, PortName: "eth1", PortID: "128.1", Role: "Master", State: "Forwarding",
				InternalPathCost: 5000, Master: true},
		},
	}
}

func TestFormatPortTable(t *testing.T) {
	t.Parallel()

	out, err := formatPort(testPort(), formatTable)
	if err != nil {
		t.Fatalf("formatPort: %v", err)
	}
	for _, want := range []string{"eth1", "CIST", "Root", "Master", "lrn,fwd,agr", "20000", "5000", "mst 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatPortsStructured(t *testing.T) {
	t.Parallel()

	ports := []server.Port{*testPort()}

	tests := []struct {
		name   string
		format string
		decode func([]byte, any) error
	}{
		{name: "json", format: formatJSON, decode: json.Unmarshal},
		{name: "yaml", format: formatYAML, decode: yaml.Unmarshal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := formatPorts(ports, tt.format)
			if err != nil {
				t.Fatalf("formatPorts: %v", err)
			}
			var got []server.Port
			if err := tt.decode([]byte(out), &got); err != nil {
				t.Fatalf("decode %s: %v\n%s", tt.name, err, out)
			}
			if len(got) != 1 || got[0].Name != "eth1" || len(got[0].Trees) != 2 {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}

func TestFormatPortsCISTColumns(t *testing.T) {
	t.Parallel()

	out, err := formatPorts([]server.Port{*testPort(), {Number: 2, Name: "eth2"}}, formatTable)
	if err != nil {
		t.Fatalf("formatPorts: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "Root") || !strings.Contains(lines[1], "Forwarding") {
		t.Errorf("eth1 line = %q", lines[1])
	}
	if !strings.Contains(lines[2], valueNA) {
		t.Errorf("eth2 line without trees = %q, want placeholder", lines[2])
	}
}

func TestFormatInstancesTable(t *testing.T) {
	t.Parallel()

	insts := []server.Instance{
		{MSTID: 0, RegionalRootID: "8.000.02:00:00:00:00:01", RemainingHops: 20},
		{MSTID: 10, RegionalRootID: "8.00a.02:00:00:00:00:01", RootPort: 1, VLANs: "10-20"},
	}
	out, err := formatInstances(insts, formatTable)
	if err != nil {
		t.Fatalf("formatInstances: %v", err)
	}
	for _, want := range []string{"CIST", "10-20", "8.00a.02:00:00:00:00:01"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()

	ev := server.Event{
		Kind:     "role_change",
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		MSTID:    10,
		Port:     2,
		PortName: "eth2",
		Old:      "Designated",
		New:      "Alternate",
	}

	tests := []struct {
		name   string
		format string
		want   []string
	}{
		{name: "table", format: formatTable, want: []string{"2026-01-02T03:04:05Z", "role_change", "instance=10", "port=eth2(2)", "Designated -> Alternate"}},
		{name: "json", format: formatJSON, want: []string{`"role_change"`, `"eth2"`}},
		{name: "yaml", format: formatYAML, want: []string{"---", "role_change"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := formatEvent(ev, tt.format)
			if err != nil {
				t.Fatalf("formatEvent: %v", err)
			}
			if tt.format == formatJSON && strings.Contains(out, "\n") {
				t.Errorf("json event spans lines: %q", out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	t.Parallel()

	if _, err := formatBridge(&server.Bridge{}, "xml"); !errors.Is(err, errUnsupportedFormat) {
		t.Errorf("formatBridge(xml) error = %v, want errUnsupportedFormat", err)
	}
	if _, err := formatEvent(server.Event{}, "xml"); !errors.Is(err, errUnsupportedFormat) {
		t.Errorf("formatEvent(xml) error = %v, want errUnsupportedFormat", err)
	}
}

func TestTreePortFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tp   server.TreePort
		want string
	}{
		{name: "none", want: valueNA},
		{name: "forwarding", tp: server.TreePort{Learning: true, Forwarding: true}, want: "lrn,fwd"},
		{name: "guarded tc", tp: server.TreePort{RootGuarded: true, TcWhile: 2}, want: "guard,tc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := treePortFlags(tt.tp); got != tt.want {
				t.Errorf("treePortFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}
