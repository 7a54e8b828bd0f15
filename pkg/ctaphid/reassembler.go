package ctaphid

// reassembler holds the in-progress state for one busy channel: the
// partially filled payload buffer, how many bytes remain, and the next
// expected continuation sequence number.
type reassembler struct {
	channel   uint32
	command   byte
	declared  int
	payload   []byte
	remaining int
	nextSeq   byte
}

// newReassembler constructs reassembly state from a validated
// initialization packet. It rejects payload lengths beyond MaxPayload.
func newReassembler(pkt *Packet) (*reassembler, error) {
	declared := int(pkt.PayloadLength)
	if declared > MaxPayload {
		return nil, newInvalidPayloadLength(pkt.Channel, declared)
	}

	r := &reassembler{
		channel:  pkt.Channel,
		command:  pkt.Command,
		declared: declared,
		payload:  make([]byte, 0, declared),
	}

	n := len(pkt.Data)
	if n > declared {
		n = declared
	}
	r.payload = append(r.payload, pkt.Data[:n]...)
	r.remaining = declared - n
	return r, nil
}

// addContinuation appends the next slice of a continuation packet's data,
// validating its sequence number.
func (r *reassembler) addContinuation(pkt *Packet) error {
	if r.remaining == 0 {
		return newUnexpectedCont(r.channel)
	}
	if pkt.Seq != r.nextSeq {
		return newUnexpectedSeq(r.channel, r.nextSeq, pkt.Seq)
	}

	n := len(pkt.Data)
	if n > r.remaining {
		n = r.remaining
	}
	r.payload = append(r.payload, pkt.Data[:n]...)
	r.remaining -= n
	r.nextSeq++
	return nil
}

// finished reports whether the declared payload has been fully received.
func (r *reassembler) finished() bool {
	return r.remaining == 0
}
