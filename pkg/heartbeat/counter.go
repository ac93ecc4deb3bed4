package heartbeat

// DefaultModulus is the wrap point of the heartbeat counter.
const DefaultModulus = 256

// Counter cycles through [0, modulus). The zero value is not usable; use NewCounter.
type Counter struct {
	value   int
	modulus int
}

func NewCounter(modulus int) Counter {
	if modulus < 2 {
		modulus = DefaultModulus
	}
	return Counter{modulus: modulus}
}

func (c *Counter) Value() int { return c.value }

func (c *Counter) Modulus() int { return c.modulus }

// Advance moves to the next value, wrapping at the modulus.
func (c *Counter) Advance() {
	c.value = (c.value + 1) % c.modulus
}

// Follows reports whether next is the successor of prev modulo modulus.
func Follows(prev, next, modulus int) bool {
	if next < 0 || next >= modulus {
		return false
	}
	return ((next-prev)%modulus+modulus)%modulus == 1
}
