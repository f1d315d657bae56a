package mstpmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "mstpd"
	subsystem = "mstp"
)

// Label names for MSTP metrics.
const (
	labelPort     = "port"
	labelType     = "type"
	labelReason   = "reason"
	labelInstance = "instance"
)

// -------------------------------------------------------------------------
// Collector: Prometheus MSTP Metrics
// -------------------------------------------------------------------------

// Collector holds all MSTP Prometheus metrics and implements
// mstp.MetricsReporter.
//
// The instance label is the MSTID in decimal; the CIST is "0". Role and
// state gauges carry the numeric value of mstp.Role and mstp.PortState.
type Collector struct {
	// BPDUsReceived counts valid BPDUs per port and BPDU type.
	BPDUsReceived *prometheus.CounterVec

	// BPDUsSent counts transmitted BPDUs per port and BPDU type.
	BPDUsSent *prometheus.CounterVec

	// BPDUsDropped counts discarded frames per port and reason
	// (validation failure, disabled port, full queue).
	BPDUsDropped *prometheus.CounterVec

	// PortRole is the current role of each port in each tree.
	PortRole *prometheus.GaugeVec

	// PortState is the current forwarding state of each port in each tree.
	PortState *prometheus.GaugeVec

	// RootGuardInconsistent is 1 while root guard holds a port blocked.
	RootGuardInconsistent *prometheus.GaugeVec

	// TopologyChanges counts topology changes detected per tree.
	TopologyChanges *prometheus.CounterVec

	// ForwardTransitions counts transitions into Forwarding per port and tree.
	ForwardTransitions *prometheus.CounterVec

	// RootChanges counts changes of the root priority vector per tree.
	RootChanges *prometheus.CounterVec

	// Disputes counts sweeps in which a port recorded a learning-flag
	// dispute, per port and tree.
	Disputes *prometheus.CounterVec
}

var _ mstp.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all MSTP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "mstpd_mstp_" prefix (namespace_subsystem).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.BPDUsReceived,
		c.BPDUsSent,
		c.BPDUsDropped,
		c.PortRole,
		c.PortState,
		c.RootGuardInconsistent,
		c.TopologyChanges,
		c.ForwardTransitions,
		c.RootChanges,
		c.Disputes,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	bpduLabels := []string{labelPort, labelType}
	dropLabels := []string{labelPort, labelReason}
	treePortLabels := []string{labelInstance, labelPort}
	treeLabels := []string{labelInstance}

	return &Collector{
		BPDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bpdus_received_total",
			Help:      "Total valid BPDUs received.",
		}, bpduLabels),

		BPDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bpdus_sent_total",
			Help:      "Total BPDUs transmitted.",
		}, bpduLabels),

		BPDUsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bpdus_dropped_total",
			Help:      "Total received frames discarded before protocol processing.",
		}, dropLabels),

		PortRole: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_role",
			Help:      "Port role: 0 disabled, 1 root, 2 designated, 3 alternate, 4 backup, 5 master.",
		}, treePortLabels),

		PortState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_state",
			Help:      "Port state: 0 disabled, 1 discarding, 2 learning, 3 forwarding.",
		}, treePortLabels),

		RootGuardInconsistent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "root_guard_inconsistent",
			Help:      "1 while root guard blocks a port that received a superior root.",
		}, treePortLabels),

		TopologyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "topology_changes_total",
			Help:      "Total topology changes detected (802.1Q-2011 Section 13.39).",
		}, treeLabels),

		ForwardTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forward_transitions_total",
			Help:      "Total port transitions into the Forwarding state.",
		}, treePortLabels),

		RootChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "root_changes_total",
			Help:      "Total changes of the root bridge or root path.",
		}, treeLabels),

		Disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "disputes_total",
			Help:      "Learning-flag disputes recorded, counted at most once per port per sweep.",
		}, treePortLabels),
	}
}

func instanceLabel(id mstp.MSTID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// -------------------------------------------------------------------------
// BPDU Counters
// -------------------------------------------------------------------------

// IncBPDUsReceived increments the received counter for port and BPDU type.
func (c *Collector) IncBPDUsReceived(port, bpduType string) {
	c.BPDUsReceived.WithLabelValues(port, bpduType).Inc()
}

// IncBPDUsSent increments the transmitted counter for port and BPDU type.
func (c *Collector) IncBPDUsSent(port, bpduType string) {
	c.BPDUsSent.WithLabelValues(port, bpduType).Inc()
}

// IncBPDUsDropped increments the dropped counter for port and reason.
func (c *Collector) IncBPDUsDropped(port, reason string) {
	c.BPDUsDropped.WithLabelValues(port, reason).Inc()
}

// -------------------------------------------------------------------------
// Port Gauges
// -------------------------------------------------------------------------

// SetPortRole records the role of port in tree mstid.
func (c *Collector) SetPortRole(mstid mstp.MSTID, port string, role mstp.Role) {
	c.PortRole.WithLabelValues(instanceLabel(mstid), port).Set(float64(role))
}

// SetPortState records the forwarding state of port in tree mstid.
func (c *Collector) SetPortState(mstid mstp.MSTID, port string, state mstp.PortState) {
	c.PortState.WithLabelValues(instanceLabel(mstid), port).Set(float64(state))
}

// SetRootGuardInconsistent records whether root guard blocks port in mstid.
func (c *Collector) SetRootGuardInconsistent(mstid mstp.MSTID, port string, blocked bool) {
	v := 0.0
	if blocked {
		v = 1
	}
	c.RootGuardInconsistent.WithLabelValues(instanceLabel(mstid), port).Set(v)
}

// DeletePort removes every series of port in tree mstid. Called when a
// port leaves a tree or the tree is removed.
func (c *Collector) DeletePort(mstid mstp.MSTID, port string) {
	inst := instanceLabel(mstid)
	c.PortRole.DeleteLabelValues(inst, port)
	c.PortState.DeleteLabelValues(inst, port)
	c.RootGuardInconsistent.DeleteLabelValues(inst, port)
	c.ForwardTransitions.DeleteLabelValues(inst, port)
	c.Disputes.DeleteLabelValues(inst, port)
}

// -------------------------------------------------------------------------
// Tree Counters
// -------------------------------------------------------------------------

// IncTopologyChanges increments the topology change counter of mstid.
func (c *Collector) IncTopologyChanges(mstid mstp.MSTID) {
	c.TopologyChanges.WithLabelValues(instanceLabel(mstid)).Inc()
}

// IncForwardTransitions increments the forwarding transition counter of
// port in mstid.
func (c *Collector) IncForwardTransitions(mstid mstp.MSTID, port string) {
	c.ForwardTransitions.WithLabelValues(instanceLabel(mstid), port).Inc()
}

// IncRootChanges increments the root change counter of mstid.
func (c *Collector) IncRootChanges(mstid mstp.MSTID) {
	c.RootChanges.WithLabelValues(instanceLabel(mstid)).Inc()
}

// IncDisputes increments the dispute counter of port in mstid.
func (c *Collector) IncDisputes(mstid mstp.MSTID, port string) {
	c.Disputes.WithLabelValues(instanceLabel(mstid), port).Inc()
}
