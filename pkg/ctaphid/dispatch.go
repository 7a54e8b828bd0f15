package ctaphid

import (
	"encoding/binary"
	"fmt"
)

// initPayloadSize is the fixed length of an INIT command payload (an
// 8-byte client nonce).
const initPayloadSize = 8

// protocolVersion, deviceVersion* and capabilities are the fixed fields of
// the INIT response (§6): CTAPHID protocol version 2, device version
// 0.0.0, capabilities CBOR|NMSG (WINK is acknowledged but not advertised).
const (
	protocolVersion   = 2
	deviceVersionMaj  = 0
	deviceVersionMin  = 0
	deviceVersionBuild = 0
	capabilities      = 0x04 | 0x08 // CBOR | NMSG
)

// dispatch handles a fully-reassembled message by command.
func (p *Processor) dispatch(channel uint32, command byte, payload []byte) (*Result, error) {
	switch Command(command) {
	case CommandInit:
		return p.handleInit(channel, payload)
	case CommandPing:
		return &Result{Kind: ResponseReady, Reports: EncodeMessage(channel, byte(CommandPing), payload)}, nil
	case CommandCBOR:
		return &Result{Kind: CBORRequest, Channel: channel, Payload: payload}, nil
	case CommandWink:
		return &Result{Kind: ResponseReady, Reports: EncodeMessage(channel, byte(CommandWink), nil)}, nil
	case CommandMsg:
		// U2F wire compatibility is out of scope beyond acknowledging the
		// envelope: reply with the CTAP1 "instruction not supported" SW.
		return &Result{Kind: ResponseReady, Reports: EncodeMessage(channel, byte(CommandMsg), []byte{0x6D, 0x00})}, nil
	case CommandCancel:
		return &Result{Kind: Aborted}, nil
	case CommandLock, CommandError, CommandKeepalive:
		return nil, newServerErrorFromDecode(newInvalidCommand(channel, command))
	default:
		if isVendorCommand(command) {
			return nil, newServerErrorFromDecode(&DecodeError{Channel: channel, Code: ErrInvalidCommand,
				Reason: fmt.Sprintf("unsupported vendor command 0x%02x", command)})
		}
		return nil, newServerErrorFromDecode(newInvalidCommand(channel, command))
	}
}

// handleInit allocates (or resynchronizes) a channel and builds the INIT
// reply payload.
func (p *Processor) handleInit(channel uint32, payload []byte) (*Result, error) {
	if len(payload) != initPayloadSize {
		return nil, newServerErrorFromDecode(&DecodeError{Channel: channel, Code: ErrInvalidLength,
			Reason: "INIT payload must be exactly 8 bytes"})
	}

	replyChannel := channel
	if channel == BroadcastChannel {
		cid, ok := p.alloc.Allocate()
		if !ok {
			return nil, newServerOther(channel, "channel allocator exhausted")
		}
		replyChannel = cid
	}
	// Resynchronization on an already-allocated channel keeps the same ID;
	// any in-progress transaction on it was already aborted by the caller.

	resp := make([]byte, 0, initPayloadSize+4+5)
	resp = append(resp, payload...) // echo nonce
	var cidBuf [4]byte
	binary.BigEndian.PutUint32(cidBuf[:], replyChannel)
	resp = append(resp, cidBuf[:]...)
	resp = append(resp, protocolVersion, deviceVersionMaj, deviceVersionMin, deviceVersionBuild, capabilities)

	return &Result{Kind: ResponseReady, Reports: EncodeMessage(channel, byte(CommandInit), resp)}, nil
}
