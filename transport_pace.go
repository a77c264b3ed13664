package mqtt311

import (
	"time"

	"golang.org/x/time/rate"
)

// PacedTransport wraps a Transport and limits the outbound byte rate
// with a token bucket. It is intended for constrained uplinks (cellular,
// LPWAN gateways) where a burst of retransmissions can saturate the
// link. Reads pass through unchanged.
type PacedTransport struct {
	inner   Transport
	limiter *rate.Limiter
}

// NewPacedTransport wraps t with an outbound limit of bytesPerSecond,
// allowing bursts up to burst bytes.
func NewPacedTransport(t Transport, bytesPerSecond float64, burst int) *PacedTransport {
	return &PacedTransport{
		inner:   t,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// Read reads from the inner transport.
func (t *PacedTransport) Read(p []byte, timeout time.Duration) (int, error) {
	return t.inner.Read(p, timeout)
}

// Write writes to the inner transport once the token bucket permits,
// never blocking past the caller's timeout. A write that cannot be
// admitted in time behaves like a timed-out write.
func (t *PacedTransport) Write(p []byte, timeout time.Duration) (int, error) {
	n := len(p)
	if n > t.limiter.Burst() {
		n = t.limiter.Burst()
	}
	if n == 0 {
		return 0, nil
	}

	res := t.limiter.ReserveN(time.Now(), n)
	if !res.OK() {
		return 0, nil
	}

	delay := res.Delay()
	if delay > timeout {
		res.Cancel()
		return 0, nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	return t.inner.Write(p[:n], timeout-delay)
}
