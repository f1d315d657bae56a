package mstp

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// VLANSet is a bitmap over VLAN ids 0..4095.
type VLANSet [64]uint64

// Add sets vid.
func (s *VLANSet) Add(vid uint16) { s[vid/64&63] |= 1 << (vid % 64) }

// Remove clears vid.
func (s *VLANSet) Remove(vid uint16) { s[vid/64&63] &^= 1 << (vid % 64) }

// Has reports whether vid is set.
func (s *VLANSet) Has(vid uint16) bool { return s[vid/64&63]&(1<<(vid%64)) != 0 }

// Len returns the number of VLANs in the set.
func (s *VLANSet) Len() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// IsEmpty reports whether no VLAN is set.
func (s *VLANSet) IsEmpty() bool { return *s == VLANSet{} }

// Each calls fn for every VLAN in ascending order.
func (s *VLANSet) Each(fn func(vid uint16)) {
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(uint16(i*64 + b))
			w &^= 1 << b
		}
	}
}

// String renders the set as comma separated ranges, for example "10-20,30".
func (s *VLANSet) String() string {
	var sb strings.Builder
	start, prev := -1, -1
	flush := func() {
		if start < 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		if start == prev {
			sb.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&sb, "%d-%d", start, prev)
		}
	}
	s.Each(func(vid uint16) {
		v := int(vid)
		if v != prev+1 || start < 0 {
			flush()
			start = v
		}
		prev = v
	})
	flush()
	return sb.String()
}

// ParseVLANSet parses a list of VLAN ids and ranges such as "10-20,30".
// Every id must be in 1..4094.
func ParseVLANSet(list string) (VLANSet, error) {
	var s VLANSet
	for field := range strings.SplitSeq(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(field, "-")
		first, err := parseVID(lo)
		if err != nil {
			return VLANSet{}, err
		}
		last := first
		if isRange {
			if last, err = parseVID(hi); err != nil {
				return VLANSet{}, err
			}
		}
		if last < first {
			return VLANSet{}, fmt.Errorf("vlan range %q: %w", field, ErrInvalidVLAN)
		}
		for v := first; v <= last; v++ {
			s.Add(v)
		}
	}
	return s, nil
}

func parseVID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || v < 1 || v > MaxVLAN {
		return 0, fmt.Errorf("vlan %q: %w", s, ErrInvalidVLAN)
	}
	return uint16(v), nil
}
