package ctaphid

// EncodeError builds the HID reports for a CTAP-HID ERROR message carrying
// code on channel.
func EncodeError(channel uint32, code ErrorCode) [][]byte {
	return EncodeMessage(channel, byte(CommandError), []byte{byte(code)})
}
