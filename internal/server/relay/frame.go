package relay

// Frame ops.
const (
	OpSub   = "sub"
	OpUnsub = "unsub"
	OpPub   = "pub"
	OpMsg   = "msg"
	OpAck   = "ack"
	OpError = "error"
)

// Frame is one relay protocol message.
type Frame struct {
	Op      string `json:"op"`
	Seq     uint64 `json:"seq,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ack returns the acknowledgement of f.
func (f Frame) Ack() Frame {
	return Frame{Op: OpAck, Seq: f.Seq}
}

// Fail returns an error reply to f.
func (f Frame) Fail(msg string) Frame {
	return Frame{Op: OpError, Seq: f.Seq, Error: msg}
}
