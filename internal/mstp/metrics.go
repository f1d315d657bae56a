package mstp

// MetricsReporter receives protocol counters and gauges. The Prometheus
// collector in internal/metrics implements it.
type MetricsReporter interface {
	IncBPDUsReceived(port, bpduType string)
	IncBPDUsSent(port, bpduType string)
	IncBPDUsDropped(port, reason string)
	SetPortRole(mstid MSTID, port string, role Role)
	SetPortState(mstid MSTID, port string, state PortState)
	SetRootGuardInconsistent(mstid MSTID, port string, blocked bool)
	IncTopologyChanges(mstid MSTID)
	IncForwardTransitions(mstid MSTID, port string)
	IncRootChanges(mstid MSTID)
	IncDisputes(mstid MSTID, port string)
	DeletePort(mstid MSTID, port string)
}

type noopMetrics struct{}

func (noopMetrics) IncBPDUsReceived(string, string)              {}
func (noopMetrics) IncBPDUsSent(string, string)                  {}
func (noopMetrics) IncBPDUsDropped(string, string)               {}
func (noopMetrics) SetPortRole(MSTID, string, Role)              {}
func (noopMetrics) SetPortState(MSTID, string, PortState)        {}
func (noopMetrics) SetRootGuardInconsistent(MSTID, string, bool) {}
func (noopMetrics) IncTopologyChanges(MSTID)                     {}
func (noopMetrics) IncForwardTransitions(MSTID, string)          {}
func (noopMetrics) IncRootChanges(MSTID)                         {}
func (noopMetrics) IncDisputes(MSTID, string)                    {}
func (noopMetrics) DeletePort(MSTID, string)                     {}
