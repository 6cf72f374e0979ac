package packet

// AckWindow tracks the sequence numbers seen from a peer and produces the
// Ack/AckBits pair for outgoing headers: Ack is the highest seq observed
// and bit i of AckBits acknowledges seq Ack-1-i. Not safe for concurrent
// use; each connection direction owns one.
type AckWindow struct {
	latest  uint32
	bits    uint32
	started bool
}

// Observe records one received seq. It reports false for duplicates and
// for packets older than the 32-packet window, which callers drop.
func (w *AckWindow) Observe(seq uint32) bool {
	if !w.started {
		w.started = true
		w.latest = seq
		w.bits = 0
		return true
	}
	switch {
	case seq == w.latest:
		return false
	case newer(seq, w.latest):
		shift := seq - w.latest
		if shift >= 33 {
			w.bits = 0
		} else {
			w.bits = w.bits<<shift | 1<<(shift-1)
		}
		w.latest = seq
		return true
	default:
		behind := w.latest - seq
		if behind > 32 {
			return false
		}
		mask := uint32(1) << (behind - 1)
		if w.bits&mask != 0 {
			return false
		}
		w.bits |= mask
		return true
	}
}

// Ack returns the current acknowledgment pair for outgoing headers.
func (w *AckWindow) Ack() (ack uint32, bits uint32) {
	return w.latest, w.bits
}

// Acked reports whether seq is covered by an Ack/AckBits pair received
// from the peer.
func Acked(seq, ack, bits uint32) bool {
	if seq == ack {
		return true
	}
	if !newer(ack, seq) {
		return false
	}
	behind := ack - seq
	if behind > 32 {
		return false
	}
	return bits&(1<<(behind-1)) != 0
}

// newer reports whether a is ahead of b with serial-number wraparound.
func newer(a, b uint32) bool {
	return int32(a-b) > 0
}
