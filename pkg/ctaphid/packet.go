package ctaphid

import "encoding/binary"

// PacketKind discriminates the two wire packet variants.
type PacketKind int

const (
	// KindInit packets begin a new message and carry the command and the
	// declared total payload length.
	KindInit PacketKind = iota
	// KindContinuation packets carry the remainder of a message already in
	// progress, identified by sequence number.
	KindContinuation
)

// Packet is the parsed view of one fixed-size HID report.
type Packet struct {
	Channel uint32
	Kind    PacketKind

	// Valid when Kind == KindInit.
	Command       byte
	PayloadLength uint16

	// Valid when Kind == KindContinuation.
	Seq byte

	// Data is the packet's payload-carrying slice (initDataSize bytes for
	// KindInit, contDataSize bytes for KindContinuation), not yet truncated
	// to the message's declared length.
	Data []byte
}

// Parse interprets report as either an initialization or continuation
// packet per byte-4 bit 7. It rejects a report that isn't exactly
// ReportSize bytes.
func Parse(report []byte) (*Packet, error) {
	if len(report) != ReportSize {
		return nil, newMalformedReport(len(report))
	}

	channel := binary.BigEndian.Uint32(report[0:4])

	if report[4]&0x80 != 0 {
		cmd := report[4] &^ 0x80
		length := binary.BigEndian.Uint16(report[5:7])
		return &Packet{
			Channel:       channel,
			Kind:          KindInit,
			Command:       cmd,
			PayloadLength: length,
			Data:          report[7:ReportSize],
		}, nil
	}

	return &Packet{
		Channel: channel,
		Kind:    KindContinuation,
		Seq:     report[4],
		Data:    report[5:ReportSize],
	}, nil
}

// SerializeInit builds the first report of a message: channel, the command
// with its wire high bit set, the big-endian payload length, then as much
// of data as fits. The caller supplies the remaining reports via
// SerializeContinuation.
func SerializeInit(channel uint32, cmd byte, totalLength int, data []byte) []byte {
	report := make([]byte, ReportSize)
	binary.BigEndian.PutUint32(report[0:4], channel)
	report[4] = cmd | 0x80
	binary.BigEndian.PutUint16(report[5:7], uint16(totalLength))
	copy(report[7:], data)
	return report
}

// SerializeContinuation builds a follow-up report for seq carrying the next
// slice of data.
func SerializeContinuation(channel uint32, seq byte, data []byte) []byte {
	report := make([]byte, ReportSize)
	binary.BigEndian.PutUint32(report[0:4], channel)
	report[4] = seq
	copy(report[5:], data)
	return report
}

// EncodeMessage splits payload into a sequence of ReportSize-sized reports
// forming one complete wire message: a KindInit report followed by as many
// KindContinuation reports as needed. len(payload) must not exceed
// MaxPayload.
func EncodeMessage(channel uint32, cmd byte, payload []byte) [][]byte {
	reports := make([][]byte, 0, 1+len(payload)/contDataSize+1)

	n := initDataSize
	if n > len(payload) {
		n = len(payload)
	}
	reports = append(reports, SerializeInit(channel, cmd, len(payload), payload[:n]))
	remaining := payload[n:]

	seq := byte(0)
	for len(remaining) > 0 {
		n := contDataSize
		if n > len(remaining) {
			n = len(remaining)
		}
		reports = append(reports, SerializeContinuation(channel, seq, remaining[:n]))
		remaining = remaining[n:]
		seq++
	}

	return reports
}
