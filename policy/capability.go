package policy

import "math/bits"

// CapabilitySet is a bitmask over a Registry.
type CapabilitySet uint64

func (c CapabilitySet) Has(bit int) bool {
	if bit < 0 || bit >= maxCapabilities {
		return false
	}
	return c&(1<<bit) != 0
}

func (c *CapabilitySet) Set(bit int) {
	if bit < 0 || bit >= maxCapabilities {
		return
	}
	*c |= 1 << bit
}

func (c *CapabilitySet) Clear(bit int) {
	if bit < 0 || bit >= maxCapabilities {
		return
	}
	*c &^= 1 << bit
}

func (c CapabilitySet) Count() int {
	return bits.OnesCount64(uint64(c))
}

func (c CapabilitySet) Raw() uint64 {
	return uint64(c)
}
