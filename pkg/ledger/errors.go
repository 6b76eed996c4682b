package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/leadfive/ledgerview/pkg/wallet"
)

// ConnectionKind classifies a failed Connect
type ConnectionKind string

const (
	NoProvider   ConnectionKind = "no_provider"
	WrongNetwork ConnectionKind = "wrong_network"
	UserRejected ConnectionKind = "user_rejected"
)

// ConnectionError is fatal to the current session
type ConnectionError struct {
	Kind ConnectionKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("connect: %s", e.Kind)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ReadKind classifies a failed read
type ReadKind string

const (
	Unreachable     ReadKind = "unreachable"
	Undecodable     ReadKind = "undecodable"
	InvalidArgument ReadKind = "invalid_argument"
)

// Retryable reports whether a read failing this way may be attempted again
func (k ReadKind) Retryable() bool {
	return k == Unreachable
}

// ReadError is returned by every gateway read
type ReadError struct {
	Kind     ReadKind
	Method   string
	Attempts int
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s failed after %d attempt(s): %s: %v", e.Method, e.Attempts, e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteKind classifies a failed write
type WriteKind string

const (
	Rejected          WriteKind = "rejected"
	InsufficientFunds WriteKind = "insufficient_funds"
	Reverted          WriteKind = "reverted"
)

// WriteError is returned by every gateway write. Writes are never retried.
type WriteError struct {
	Kind   WriteKind
	Method string
	Reason string
	Err    error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("write %s: %s", e.Method, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsReadKind reports whether err is a ReadError of the given kind
func IsReadKind(err error, kind ReadKind) bool {
	var re *ReadError
	return errors.As(err, &re) && re.Kind == kind
}

// IsWriteKind reports whether err is a WriteError of the given kind
func IsWriteKind(err error, kind WriteKind) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == kind
}

const rpcInvalidParams = -32602

// classifyCall maps a failed eth_call to a read kind
func classifyCall(err error) ReadKind {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcInvalidParams {
		return InvalidArgument
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		// a view call reverting means the deployed contract disagrees with the ABI
		return Undecodable
	case strings.Contains(msg, "invalid argument"), strings.Contains(msg, "invalid params"):
		return InvalidArgument
	}
	// transport failures, timeouts, rate limits and 5xx all retry
	return Unreachable
}

// classifyWrite maps a failed estimate, signature or submission to a write error
func classifyWrite(method string, err error) *WriteError {
	if errors.Is(err, wallet.ErrUserRejected) || errors.Is(err, wallet.ErrUnknownAccount) {
		return &WriteError{Kind: Rejected, Method: method, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return &WriteError{Kind: Rejected, Method: method, Err: err}
	case strings.Contains(msg, "insufficient funds"):
		return &WriteError{Kind: InsufficientFunds, Method: method, Reason: "insufficient funds for gas and value", Err: err}
	}

	return &WriteError{Kind: Reverted, Method: method, Reason: revertReason(err), Err: err}
}

// revertReason extracts the Error(string) payload carried by a reverted call
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted:"):])
	}
	return "execution reverted"
}
