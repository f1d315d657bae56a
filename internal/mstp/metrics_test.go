package mstp_test

import (
	"fmt"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// recordingMetrics counts calls by label for assertions.
type recordingMetrics struct {
	received map[string]int
	sent     map[string]int
	dropped  map[string]int
	roles    map[string]mstp.Role
	states   map[string]mstp.PortState
	guarded  map[string]bool
	tcs      map[mstp.MSTID]int
	fwd      map[string]int
	roots    map[mstp.MSTID]int
	disputes map[string]int
	deleted  []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		received: make(map[string]int),
		sent:     make(map[string]int),
		dropped:  make(map[string]int),
		roles:    make(map[string]mstp.Role),
		states:   make(map[string]mstp.PortState),
		guarded:  make(map[string]bool),
		tcs:      make(map[mstp.MSTID]int),
		fwd:      make(map[string]int),
		roots:    make(map[mstp.MSTID]int),
		disputes: make(map[string]int),
	}
}

func treeKey(mstid mstp.MSTID, port string) string {
	return fmt.Sprintf("%s@%d", port, mstid)
}

func (r *recordingMetrics) IncBPDUsReceived(port, typ string) { r.received[port+"/"+typ]++ }
func (r *recordingMetrics) IncBPDUsSent(port, typ string)     { r.sent[port+"/"+typ]++ }
func (r *recordingMetrics) IncBPDUsDropped(port, why string)  { r.dropped[port+"/"+why]++ }

func (r *recordingMetrics) SetPortRole(mstid mstp.MSTID, port string, role mstp.Role) {
	r.roles[treeKey(mstid, port)] = role
}

func (r *recordingMetrics) SetPortState(mstid mstp.MSTID, port string, state mstp.PortState) {
	r.states[treeKey(mstid, port)] = state
}

func (r *recordingMetrics) SetRootGuardInconsistent(mstid mstp.MSTID, port string, blocked bool) {
	r.guarded[treeKey(mstid, port)] = blocked
}

func (r *recordingMetrics) IncTopologyChanges(mstid mstp.MSTID) { r.tcs[mstid]++ }

func (r *recordingMetrics) IncForwardTransitions(mstid mstp.MSTID, port string) {
	r.fwd[treeKey(mstid, port)]++
}

func (r *recordingMetrics) IncRootChanges(mstid mstp.MSTID) { r.roots[mstid]++ }

func (r *recordingMetrics) IncDisputes(mstid mstp.MSTID, port string) {
	r.disputes[treeKey(mstid, port)]++
}

func (r *recordingMetrics) DeletePort(mstid mstp.MSTID, port string) {
	r.deleted = append(r.deleted, treeKey(mstid, port))
}
