package mqtt311

// packetIDCounter allocates 16-bit packet identifiers. Identifiers wrap
// from 65535 back to 1; zero is never returned.
// MQTT v3.1.1 spec: Section 2.3.1
//
// The client is single-threaded by design, so the counter needs no
// locking.
type packetIDCounter struct {
	next uint16
}

// Next returns the current identifier and advances the counter.
func (c *packetIDCounter) Next() uint16 {
	if c.next == 0 {
		c.next = 1
	}

	id := c.next
	c.next++
	if c.next == 0 {
		c.next = 1
	}

	return id
}
