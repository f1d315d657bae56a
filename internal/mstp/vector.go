package mstp

import "fmt"

// -------------------------------------------------------------------------
// Priority Vectors: 802.1Q-2011 Section 13.10, 13.11
// -------------------------------------------------------------------------

// Ordering is the result of comparing two priority vectors. Smaller is
// better.
type Ordering int8

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// String returns a short human-readable form.
func (o Ordering) String() string {
	switch o {
	case Less:
		return "Less"
	case Equal:
		return "Equal"
	case Greater:
		return "Greater"
	default:
		return fmt.Sprintf(unknownFmt, int8(o))
	}
}

func compareUint[T ~uint8 | ~uint16 | ~uint32 | ~uint64](a, b T) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Vector is a priority vector. A CIST vector uses every field:
//
//	{RootID : ExternalRootPathCost : RegionalRootID :
//	 InternalRootPathCost : DesignatedBridgeID : DesignatedPortID}
//
// An MSTI vector carries no root id or external cost; both fields stay
// zero and the comparison reduces to the four MSTI components.
type Vector struct {
	Root           BridgeID
	ExtPathCost    uint32
	RegionalRoot   BridgeID
	IntPathCost    uint32
	DesignatedID   BridgeID
	DesignatedPort PortID
}

// Compare orders a against b field by field in precedence order. The
// designated bridge MAC and designated port id close every tie, so two
// vectors compare Equal only when all components are identical.
func Compare(a, b Vector) Ordering {
	if o := a.Root.Compare(b.Root); o != Equal {
		return o
	}
	if o := compareUint(a.ExtPathCost, b.ExtPathCost); o != Equal {
		return o
	}
	if o := a.RegionalRoot.Compare(b.RegionalRoot); o != Equal {
		return o
	}
	if o := compareUint(a.IntPathCost, b.IntPathCost); o != Equal {
		return o
	}
	if o := a.DesignatedID.Compare(b.DesignatedID); o != Equal {
		return o
	}
	return compareUint(a.DesignatedPort, b.DesignatedPort)
}

// String renders the vector in bracket notation.
func (v Vector) String() string {
	return fmt.Sprintf("{%s:%d:%s:%d:%s:%s}",
		v.Root, v.ExtPathCost, v.RegionalRoot, v.IntPathCost, v.DesignatedID, v.DesignatedPort)
}

// Times carries the timer values that accompany a priority vector
// (802.1Q-2011 Section 13.24.13). Values are whole seconds.
type Times struct {
	MessageAge    uint16
	MaxAge        uint16
	FwdDelay      uint16
	HelloTime     uint16
	RemainingHops uint8
}
