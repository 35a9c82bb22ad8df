package rpc

// CapDescriptor describes one capability carried by a payload.
//
// Wire Format (XDR encoding):
//   - Kind: 4 bytes (CapNone, CapSenderHosted, CapReceiverHosted)
//   - ID:   4 bytes (export id in the hosting side's table)
type CapDescriptor struct {
	Kind uint32
	ID   uint32
}

// Payload is the body of a call or of successful results.
//
// Content is the XDR encoding of the method's params or results struct.
// Capabilities referenced by Content are listed in CapTable, and Content
// refers to them by their index in that table.
type Payload struct {
	Content  []byte
	CapTable []CapDescriptor
}

// Exception is the wire form of an RPC-level failure.
type Exception struct {
	Type   uint32
	Reason string
}

// BootstrapMessage asks for the peer's root capability.
type BootstrapMessage struct {
	// QuestionID is chosen by the sender and echoed in the Return.
	QuestionID uint32
}

// CallMessage invokes a method.
//
// Wire Format (XDR encoding):
//   - QuestionID:  4 bytes
//   - Target:      4 bytes (export id in the receiver's table)
//   - InterfaceID: 8 bytes
//   - MethodID:    4 bytes
//   - Params:      variable (Payload)
type CallMessage struct {
	QuestionID  uint32
	Target      uint32
	InterfaceID uint64
	MethodID    uint32
	Params      Payload
}

// ReturnMessage answers a question.
//
// Both Results and Exception are always encoded; Kind selects the one that
// is meaningful. Keeping the layout fixed makes the body a plain struct for
// the XDR codec.
type ReturnMessage struct {
	AnswerID  uint32
	Kind      uint32
	Results   Payload
	Exception Exception
}

// ReleaseMessage drops ReferenceCount references to the sender's import ID.
type ReleaseMessage struct {
	ID             uint32
	ReferenceCount uint32
}

// AbortMessage carries the reason for a fatal protocol error.
type AbortMessage struct {
	Reason string
}

// Message is a decoded message of any type. Exactly one body pointer is
// non-nil, matching Type.
type Message struct {
	Type      uint32
	Bootstrap *BootstrapMessage
	Call      *CallMessage
	Return    *ReturnMessage
	Release   *ReleaseMessage
	Abort     *AbortMessage
}
