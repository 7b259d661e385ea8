// Package errkind classifies coordinator-facing errors into the fault
// kinds from the round-recovery policy: transport faults recover on
// the next loop iteration, application faults abandon the round, and
// a small set of faults are process-fatal.
package errkind

import "errors"

// Kind is one of the fault classes the coordinator reacts to.
type Kind int

const (
	// Unknown is returned for errors that carry no kind annotation.
	Unknown Kind = iota
	// RPCTransport is a connection/auth failure to the chain daemon.
	RPCTransport
	// RPCApplication is a JSON-RPC error object returned by the daemon.
	RPCApplication
	// SignerFault is an HSM failure that survived one retry.
	SignerFault
	// MessengerTransport is a socket failure on the messenger.
	MessengerTransport
	// ProtocolInvalid is a malformed peer message or invalid candidate block.
	ProtocolInvalid
	// StopRequested is an orderly shutdown signal.
	StopRequested
)

func (k Kind) String() string {
	switch k {
	case RPCTransport:
		return "rpc_transport"
	case RPCApplication:
		return "rpc_application"
	case SignerFault:
		return "signer_fault"
	case MessengerTransport:
		return "messenger_transport"
	case ProtocolInvalid:
		return "protocol_invalid"
	case StopRequested:
		return "stop_requested"
	default:
		return "unknown"
	}
}

// kindError wraps an error with a Kind so it survives fmt.Errorf("%w") wrapping.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Classify extracts the Kind attached by Wrap, or Unknown if err (or any
// error in its chain) was never wrapped.
func Classify(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err was classified with the given kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}
