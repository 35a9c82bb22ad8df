package rpc

// Message Types
//
// Every message on a capability connection starts with a 4-byte type tag
// followed by the XDR encoding of the matching body struct.
const (
	// MsgBootstrap asks the peer for its root capability.
	// The peer answers with a Return whose cap table holds exactly one entry.
	MsgBootstrap uint32 = 0

	// MsgCall invokes a method on a capability previously exported by the peer.
	MsgCall uint32 = 1

	// MsgReturn answers a Bootstrap or Call with results or an exception.
	MsgReturn uint32 = 2

	// MsgRelease drops references to a capability the sender imported.
	MsgRelease uint32 = 3

	// MsgAbort reports a fatal protocol error. The sender closes the
	// connection right after writing it.
	MsgAbort uint32 = 4
)

// Capability Descriptor Kinds
//
// Capabilities inside a payload are carried in a side table rather than in
// the content bytes. Content refers to them by index.
const (
	// CapNone is a null capability.
	CapNone uint32 = 0

	// CapSenderHosted names an entry in the sender's export table.
	// The receiver adds it to its import table.
	CapSenderHosted uint32 = 1

	// CapReceiverHosted names an entry in the receiver's own export table,
	// i.e. a capability being passed back to the side that hosts it.
	CapReceiverHosted uint32 = 2
)

// Return Kinds
const (
	// ReturnResults carries a successful payload.
	ReturnResults uint32 = 0

	// ReturnException carries an Exception; Results is empty.
	ReturnException uint32 = 1
)

// Exception Types
const (
	// ExceptionFailed is a generic failure; retrying the same call would fail again.
	ExceptionFailed uint32 = 0

	// ExceptionOverloaded means the callee refused the call because of load.
	ExceptionOverloaded uint32 = 1

	// ExceptionDisconnected means the connection carrying the call went away.
	ExceptionDisconnected uint32 = 2

	// ExceptionUnimplemented means the callee does not implement the method.
	ExceptionUnimplemented uint32 = 3
)

// NoCap is the index written into content for an absent capability.
const NoCap uint32 = 0xFFFFFFFF

const (
	// DefaultMaxMessageSize bounds a reassembled message. PUT bodies travel
	// inside a single message, so this is also the upload size limit.
	DefaultMaxMessageSize = 64 << 20

	// lastFragmentBit marks the final fragment of a record.
	lastFragmentBit = 0x80000000

	// maxFragmentLength is the largest length a fragment header can carry.
	maxFragmentLength = 0x7FFFFFFF
)
