// Package mstp implements the bridge side of the Multiple Spanning Tree
// Protocol (IEEE 802.1Q-2011 Clause 13).
//
// The package holds the priority vector comparator and the received-info
// classifier (13.27.12), the BPDU codec (Clause 14), the per-port and
// per-tree state machines (PIM, PRS, PRT, PST, TCM, PPM, PRX, PTX) and
// the administrative operations that create ports and instances.
//
// All protocol state is owned by a Bridge. A Bridge is not safe for
// concurrent use: every call happens on the goroutine started by Loop.Run,
// and each entry point runs its cascade of state machines to completion
// before returning.
package mstp
