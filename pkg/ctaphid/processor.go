package ctaphid

import "log"

// ResultKind discriminates the outcome of feeding one packet to the
// Processor.
type ResultKind int

const (
	// WaitingForMorePackets: the message is not yet complete; no response.
	WaitingForMorePackets ResultKind = iota
	// ResponseReady carries pre-encoded HID reports to write to the
	// transport (INIT/PING/MSG/WINK replies). Framing errors are not
	// carried here: HandlePacket returns them as a *ServerError.
	ResponseReady
	// CBORRequest carries a decoded CTAP2 command ready for the
	// authenticator service.
	CBORRequest
	// Aborted: a transaction was torn down (or a no-op CANCEL was
	// processed); nothing should be written to the transport.
	Aborted
)

// Result is the outcome of Processor.HandlePacket.
type Result struct {
	Kind ResultKind

	// Valid when Kind == ResponseReady: the fully chunked reports to send,
	// in order.
	Reports [][]byte

	// Valid when Kind == CBORRequest.
	Channel uint32
	Payload []byte
}

// Processor owns the channel allocator and the single busy/idle transaction
// state machine. It is not safe for concurrent use — the server loop is its
// only caller.
type Processor struct {
	alloc *Allocator

	busy bool
	asm  *reassembler
}

// NewProcessor returns an idle processor with a fresh channel allocator.
func NewProcessor() *Processor {
	return &Processor{alloc: NewAllocator()}
}

// IsAllocated exposes the allocator for tests and diagnostics.
func (p *Processor) IsAllocated(channel uint32) bool {
	return p.alloc.IsAllocated(channel)
}

// HandlePacket feeds one parsed packet through the state machine.
func (p *Processor) HandlePacket(pkt *Packet) (*Result, error) {
	if pkt.Channel == ReservedChannel {
		return nil, newInvalidChannel(pkt.Channel)
	}
	if pkt.Channel != BroadcastChannel && !p.alloc.IsAllocated(pkt.Channel) {
		return nil, newInvalidChannel(pkt.Channel)
	}

	if !p.busy {
		if pkt.Kind == KindContinuation {
			return nil, newServerErrorFromDecode(newUnexpectedCont(pkt.Channel))
		}
		return p.beginTransaction(pkt)
	}

	busyChannel := p.asm.channel
	if pkt.Channel != busyChannel {
		return nil, newChannelBusy(busyChannel, pkt.Channel)
	}

	if pkt.Kind == KindContinuation {
		if err := p.asm.addContinuation(pkt); err != nil {
			p.abortTransaction()
			return nil, newServerErrorFromDecode(err.(*DecodeError))
		}
		if !p.asm.finished() {
			return &Result{Kind: WaitingForMorePackets}, nil
		}
		return p.finishTransaction()
	}

	// Initialization packet on the already-busy channel.
	switch Command(pkt.Command) {
	case CommandCancel:
		p.abortTransaction()
		return &Result{Kind: Aborted}, nil
	case CommandInit:
		p.abortTransaction()
		return p.beginTransaction(pkt)
	default:
		return nil, newChannelBusy(busyChannel, pkt.Channel)
	}
}

// beginTransaction constructs reassembly state from an initialization
// packet, synchronously finishing (and dispatching) messages that fit in a
// single report.
func (p *Processor) beginTransaction(pkt *Packet) (*Result, error) {
	if pkt.Channel == BroadcastChannel && Command(pkt.Command) != CommandInit {
		return nil, newInvalidChannel(pkt.Channel)
	}

	asm, err := newReassembler(pkt)
	if err != nil {
		return nil, newServerErrorFromDecode(err.(*DecodeError))
	}

	p.busy = true
	p.asm = asm

	if !asm.finished() {
		return &Result{Kind: WaitingForMorePackets}, nil
	}
	return p.finishTransaction()
}

// finishTransaction dispatches a fully-reassembled message and returns the
// processor to Idle.
func (p *Processor) finishTransaction() (*Result, error) {
	channel := p.asm.channel
	command := p.asm.command
	payload := p.asm.payload

	p.busy = false
	p.asm = nil

	return p.dispatch(channel, command, payload)
}

// abortTransaction unconditionally returns the processor to Idle, dropping
// any in-progress assembly state and logging a warning.
func (p *Processor) abortTransaction() {
	if p.busy {
		log.Printf("ctaphid: warning: aborting transaction on channel %08x", p.asm.channel)
		p.busy = false
		p.asm = nil
	}
}
