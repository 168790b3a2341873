package vm

import (
	"math/bits"
	"strings"
)

// ActiveMask is the set of lanes of a warp taking part in one instruction.
// Bit = 1 means the lane is active.
type ActiveMask struct {
	bits   []uint64
	length int
}

// NewActiveMask creates a mask over length lanes with every lane inactive.
func NewActiveMask(length int) ActiveMask {
	return ActiveMask{
		bits:   make([]uint64, (length+63)/64),
		length: length,
	}
}

// FullMask creates a mask with every lane active.
func FullMask(length int) ActiveMask {
	m := NewActiveMask(length)
	for i := range m.bits {
		m.bits[i] = ^uint64(0)
	}
	// Clear bits beyond length in the last word
	if r := length % 64; r != 0 {
		m.bits[len(m.bits)-1] &= (uint64(1) << r) - 1
	}
	return m
}

// MaskOf creates a mask with the given lanes active.
func MaskOf(length int, lanes ...int) ActiveMask {
	m := NewActiveMask(length)
	for _, l := range lanes {
		m.Set(l)
	}
	return m
}

// Len returns the number of lanes the mask covers.
func (m ActiveMask) Len() int {
	return m.length
}

// Set marks lane i active.
func (m ActiveMask) Set(i int) {
	if i < 0 || i >= m.length {
		return
	}
	m.bits[i/64] |= uint64(1) << (i % 64)
}

// Clear marks lane i inactive.
func (m ActiveMask) Clear(i int) {
	if i < 0 || i >= m.length {
		return
	}
	m.bits[i/64] &^= uint64(1) << (i % 64)
}

// IsSet reports whether lane i is active.
func (m ActiveMask) IsSet(i int) bool {
	if i < 0 || i >= m.length {
		return false
	}
	return m.bits[i/64]&(uint64(1)<<(i%64)) != 0
}

// Count returns the number of active lanes.
func (m ActiveMask) Count() int {
	n := 0
	for _, w := range m.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Highest returns the highest active lane, or -1 when none is active.
func (m ActiveMask) Highest() int {
	for i := len(m.bits) - 1; i >= 0; i-- {
		if m.bits[i] != 0 {
			return i*64 + 63 - bits.LeadingZeros64(m.bits[i])
		}
	}
	return -1
}

// Lanes returns the active lane indices in ascending order.
func (m ActiveMask) Lanes() []int {
	lanes := make([]int, 0, m.Count())
	for i, w := range m.bits {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			lanes = append(lanes, i*64+b)
			w &^= uint64(1) << b
		}
	}
	return lanes
}

// Uint32 returns lanes 0..31 as a bit set.
func (m ActiveMask) Uint32() uint32 {
	if len(m.bits) == 0 {
		return 0
	}
	return uint32(m.bits[0])
}

// Equal reports whether both masks select the same lanes.
func (m ActiveMask) Equal(o ActiveMask) bool {
	if m.length != o.length {
		return false
	}
	for i := range m.bits {
		if m.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (m ActiveMask) Clone() ActiveMask {
	c := NewActiveMask(m.length)
	copy(c.bits, m.bits)
	return c
}

// String renders lane 0 first, '1' for active lanes.
func (m ActiveMask) String() string {
	var sb strings.Builder
	for i := 0; i < m.length; i++ {
		if m.IsSet(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
