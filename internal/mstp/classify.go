package mstp

// -------------------------------------------------------------------------
// Received Information Classification: 802.1Q-2011 Section 13.27.12
// -------------------------------------------------------------------------

// Message is the type and flags of the message last recorded for a
// (tree, port) pair: the CIST part of a BPDU or one MSTI Configuration
// Message.
type Message struct {
	Type  BPDUType
	Flags Flags
}

// Role returns the port role the sender claims. A Configuration BPDU
// always comes from a Designated port.
func (m Message) Role() Role {
	if m.Type == TypeConfig {
		return RoleDesignated
	}
	return m.Flags.Role()
}

// Received is the input to ClassifyCIST and ClassifyMSTI.
type Received struct {
	Msg       Message
	MsgPrio   Vector
	MsgTimes  Times
	PortPrio  Vector
	PortTimes Times
	InfoIs    InfoIs
	// Own is this bridge's identifier in the tree being classified.
	Own BridgeID
}

// ClassifyCIST classifies a CIST message against the port priority vector.
//
// A lesser vector whose root MAC is our own but whose root identifier is
// not is stale information about this bridge at an old priority; it is
// treated as Other so that it cannot circulate after a priority change.
func ClassifyCIST(r Received) RcvdInfo {
	if r.Msg.Type == TypeTCN {
		return OtherInfo
	}

	res := Compare(r.MsgPrio, r.PortPrio)
	role := r.Msg.Role()

	if role == RoleDesignated {
		if res == Less {
			if r.MsgPrio.Root.Addr == r.Own.Addr && r.MsgPrio.Root != r.Own {
				return OtherInfo
			}
			return SuperiorDesignatedInfo
		}

		sameTimes := r.MsgTimes == r.PortTimes
		if res == Equal && !sameTimes {
			return SuperiorDesignatedInfo
		}
		if res == Greater && sameDesignated(r.MsgPrio, r.PortPrio) {
			return SuperiorDesignatedInfo
		}
		if res == Equal && r.InfoIs == InfoReceived {
			return RepeatedDesignatedInfo
		}
		if res == Greater {
			return InferiorDesignatedInfo
		}
	}

	if r.Msg.Type == TypeRST && isRootOrAlternate(role) && res != Less {
		return RootInfo
	}
	return OtherInfo
}

// ClassifyMSTI classifies an MSTI Configuration Message against the port
// priority vector. Only remaining hops participate in the times check, and
// the same-designated refresh rule is tested before the times rule.
func ClassifyMSTI(r Received) RcvdInfo {
	res := Compare(r.MsgPrio, r.PortPrio)
	role := r.Msg.Role()

	if role == RoleDesignated {
		if res == Less {
			if r.MsgPrio.RegionalRoot.Addr == r.Own.Addr && r.MsgPrio.RegionalRoot != r.Own {
				return OtherInfo
			}
			return SuperiorDesignatedInfo
		}
		if res == Greater && sameDesignated(r.MsgPrio, r.PortPrio) {
			return SuperiorDesignatedInfo
		}

		sameHops := r.MsgTimes.RemainingHops == r.PortTimes.RemainingHops
		if res == Equal && !sameHops {
			return SuperiorDesignatedInfo
		}
		if res == Equal && r.InfoIs == InfoReceived {
			return RepeatedDesignatedInfo
		}
		if res == Greater {
			return InferiorDesignatedInfo
		}
	}

	if isRootOrAlternate(role) && res != Less {
		return RootInfo
	}
	return OtherInfo
}

// sameDesignated reports whether both vectors name the same designated
// bridge MAC and port number, ignoring priorities.
func sameDesignated(a, b Vector) bool {
	return a.DesignatedID.Addr == b.DesignatedID.Addr &&
		a.DesignatedPort.Number() == b.DesignatedPort.Number()
}

func isRootOrAlternate(r Role) bool {
	return r == RoleRoot || r == RoleAlternate || r == RoleBackup
}
