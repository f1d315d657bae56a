// Package commands implements the mstpctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gomstp/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "-"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// render encodes v as JSON or YAML, or calls table for the table format.
func render(v any, format string, table func(w io.Writer)) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal to YAML: %w", err)
		}
		return string(data), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		table(w)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatBridge renders the bridge view.
func formatBridge(b *server.Bridge, format string) (string, error) {
	return render(b, format, func(w io.Writer) {
		fmt.Fprintf(w, "Bridge ID:\t%s\n", b.BridgeID)
		fmt.Fprintf(w, "Address:\t%s\n", b.Address)
		fmt.Fprintf(w, "Protocol:\t%s\n", b.ForceVersion)
		fmt.Fprintf(w, "Priority:\t%d\n", b.Priority)
		fmt.Fprintf(w, "Hello Time:\t%ds\n", b.HelloTime)
		fmt.Fprintf(w, "Max Age:\t%ds\n", b.MaxAge)
		fmt.Fprintf(w, "Forward Delay:\t%ds\n", b.ForwardDelay)
		fmt.Fprintf(w, "Max Hops:\t%d\n", b.MaxHops)
		fmt.Fprintf(w, "Tx Hold Count:\t%d\n", b.TxHoldCount)
		fmt.Fprintf(w, "Region:\t%s\n", b.Region)
		fmt.Fprintf(w, "Revision:\t%d\n", b.Revision)
		fmt.Fprintf(w, "Digest:\t%s\n", b.Digest)
		fmt.Fprintf(w, "CIST Root:\t%s\n", b.RootID)
		fmt.Fprintf(w, "External Root Cost:\t%d\n", b.ExternalRootPathCost)
		fmt.Fprintf(w, "Regional Root:\t%s\n", b.RegionalRootID)
		fmt.Fprintf(w, "Internal Root Cost:\t%d\n", b.InternalRootPathCost)
		fmt.Fprintf(w, "Root Port:\t%s\n", portNumber(b.RootPort))
		fmt.Fprintf(w, "Root Times:\tage %d max-age %d fwd %d hello %d hops %d\n",
			b.RootTimes.MessageAge, b.RootTimes.MaxAge, b.RootTimes.ForwardDelay,
			b.RootTimes.HelloTime, b.RootTimes.RemainingHops)
		fmt.Fprintf(w, "Instances:\t%s\n", joinIDs(b.Instances))
		fmt.Fprintf(w, "Ports:\t%d\n", b.PortCount)
		fmt.Fprintf(w, "Topology Changes:\t%d\n", b.TopologyChanges)
	})
}

// formatPorts renders one line per port with its CIST role and state.
func formatPorts(ports []server.Port, format string) (string, error) {
	return render(ports, format, func(w io.Writer) {
		fmt.Fprintln(w, "PORT\tNAME\tENABLED\tEDGE\tP2P\tROLE\tSTATE\tBOUNDARY")
		for _, p := range ports {
			cist := cistOf(p)
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Number, p.Name,
				yesNo(p.Enabled), yesNo(p.OperEdge), yesNo(p.OperPointToPoint),
				cist.Role, cist.State, yesNo(p.Boundary),
			)
		}
	})
}

// formatPort renders the port detail followed by its per-tree table.
func formatPort(p *server.Port, format string) (string, error) {
	return render(p, format, func(w io.Writer) {
		fmt.Fprintf(w, "Port:\t%d (%s)\n", p.Number, p.Name)
		fmt.Fprintf(w, "Enabled:\t%s\n", yesNo(p.Enabled))
		fmt.Fprintf(w, "Admin Edge:\t%s\n", yesNo(p.AdminEdge))
		fmt.Fprintf(w, "Oper Edge:\t%s\n", yesNo(p.OperEdge))
		fmt.Fprintf(w, "Link Type:\t%s (p2p %s)\n", p.LinkType, yesNo(p.OperPointToPoint))
		fmt.Fprintf(w, "Root Guard:\t%s\n", yesNo(p.RootGuard))
		fmt.Fprintf(w, "Boundary:\t%s\n", yesNo(p.Boundary))
		fmt.Fprintf(w, "Sending RSTP:\t%s\n", yesNo(p.SendRSTP))
		s := p.Stats
		fmt.Fprintf(w, "BPDUs Rx:\tconfig %d tcn %d rst %d mst %d dropped %d\n",
			s.RxConfig, s.RxTCN, s.RxRST, s.RxMST, s.RxDropped)
		fmt.Fprintf(w, "BPDUs Tx:\tconfig %d tcn %d rst %d mst %d\n",
			s.TxConfig, s.TxTCN, s.TxRST, s.TxMST)
		fmt.Fprintln(w)
		writeTreePorts(w, p.Trees, true)
	})
}

// formatInstances renders one line per tree.
func formatInstances(insts []server.Instance, format string) (string, error) {
	return render(insts, format, func(w io.Writer) {
		fmt.Fprintln(w, "MSTID\tREGIONAL-ROOT\tROOT-PORT\tCOST\tHOPS\tTC\tVLANS")
		for _, in := range insts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				mstidLabel(in.MSTID), in.RegionalRootID, portNumber(in.RootPort),
				in.RootPathCost, in.RemainingHops, in.TopologyChanges, orNA(in.VLANs),
			)
		}
	})
}

// formatInstance renders the tree detail followed by its member ports.
func formatInstance(in *server.Instance, format string) (string, error) {
	return render(in, format, func(w io.Writer) {
		fmt.Fprintf(w, "Instance:\t%s\n", mstidLabel(in.MSTID))
		fmt.Fprintf(w, "Bridge ID:\t%s\n", in.BridgeID)
		fmt.Fprintf(w, "Regional Root:\t%s\n", in.RegionalRootID)
		fmt.Fprintf(w, "Root Port:\t%s\n", portNumber(in.RootPort))
		fmt.Fprintf(w, "Root Path Cost:\t%d\n", in.RootPathCost)
		fmt.Fprintf(w, "Remaining Hops:\t%d\n", in.RemainingHops)
		fmt.Fprintf(w, "Topology Changes:\t%d\n", in.TopologyChanges)
		fmt.Fprintf(w, "VLANs:\t%s\n", orNA(in.VLANs))
		fmt.Fprintln(w)
		writeTreePorts(w, in.Ports, false)
	})
}

func writeTreePorts(w io.Writer, tps []server.TreePort, byTree bool) {
	first := "PORT"
	if byTree {
		first = "MSTID"
	}
	fmt.Fprintf(w, "%s\tID\tROLE\tSTATE\tCOST\tDESIGNATED-BRIDGE\tDESIGNATED-PORT\tFLAGS\n", first)
	for _, tp := range tps {
		key := tp.PortName
		if byTree {
			key = mstidLabel(tp.MSTID)
		}
		cost := tp.InternalPathCost
		if tp.MSTID == 0 {
			cost = tp.ExternalPathCost
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			key, tp.PortID, tp.Role, tp.State, cost,
			tp.DesignatedBridge, tp.DesignatedPort, treePortFlags(tp),
		)
	}
}

// treePortFlags abbreviates the boolean handshake variables.
func treePortFlags(tp server.TreePort) string {
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{tp.Learning, "lrn"},
		{tp.Forwarding, "fwd"},
		{tp.Agreed, "agr"},
		{tp.Proposing, "prp"},
		{tp.Disputed, "dsp"},
		{tp.RootGuarded, "guard"},
		{tp.Master, "mst"},
		{tp.TcWhile > 0, "tc"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		return valueNA
	}
	return strings.Join(flags, ",")
}

// formatEvent renders one streamed event. JSON events are compact so the
// stream stays one event per line.
func formatEvent(ev server.Event, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("marshal event to JSON: %w", err)
		}
		return string(data), nil
	case formatYAML:
		data, err := yaml.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("marshal event to YAML: %w", err)
		}
		return "---\n" + strings.TrimRight(string(data), "\n"), nil
	case formatTable:
		line := fmt.Sprintf("[%s] %s  instance=%s", ev.Time.Format(time.RFC3339), ev.Kind, mstidLabel(ev.MSTID))
		if ev.Port != 0 {
			line += fmt.Sprintf("  port=%s(%d)", ev.PortName, ev.Port)
		}
		switch {
		case ev.Old != "":
			line += fmt.Sprintf("  %s -> %s", ev.Old, ev.New)
		case ev.New != "":
			line += "  " + ev.New
		}
		return line, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- helpers ---

func cistOf(p server.Port) server.TreePort {
	for _, tp := range p.Trees {
		if tp.MSTID == 0 {
			return tp
		}
	}
	return server.TreePort{Role: valueNA, State: valueNA}
}

func mstidLabel(id uint16) string {
	if id == 0 {
		return "CIST"
	}
	return fmt.Sprintf("%d", id)
}

func portNumber(n uint16) string {
	if n == 0 {
		return valueNA
	}
	return fmt.Sprintf("%d", n)
}

func joinIDs(ids []uint16) string {
	if len(ids) == 0 {
		return valueNA
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNA(s string) string {
	if s == "" {
		return valueNA
	}
	return s
}
