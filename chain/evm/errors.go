package evm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrReceiptTimeout is returned when a receipt was not observed before the wait deadline.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// SimulationError reports that a call was rejected while being simulated against the current
// chain state. No transaction was broadcast.
type SimulationError struct {
	Reason string
	Err    error
}

func (e *SimulationError) Error() string {
	return "simulation rejected: " + e.Reason
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

func newSimulationError(err error) *SimulationError {
	return &SimulationError{Reason: ErrorReason(err), Err: err}
}

// jsonError matches the private JSON-RPC error type returned by go-ethereum's rpc client.
//
// https://github.com/ethereum/go-ethereum/blob/0983cd789ee1905aedaed96f72793e5af8466f34/rpc/json.go#L140
type jsonError interface {
	Error() string
	ErrorCode() int
	ErrorData() any
}

// ErrorReason extracts a human readable reason from an RPC error. Solidity Error(string) revert
// payloads are decoded; other payloads are returned as hex next to the message.
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}

	var jerr jsonError
	if !errors.As(err, &jerr) {
		return err.Error()
	}

	data, ok := jerr.ErrorData().(string)
	if !ok || data == "" || data == "0x" {
		return jerr.Error()
	}

	raw, derr := hexutil.Decode(data)
	if derr != nil {
		return fmt.Sprintf("%s: %s", jerr.Error(), data)
	}
	if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
		return reason
	}

	return fmt.Sprintf("%s: %s", jerr.Error(), data)
}

// transientMessages are fragments of node error messages that indicate the request may succeed
// when repeated.
var transientMessages = []string{
	"timeout",
	"timed out",
	"too many requests",
	"rate limit",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad gateway",
	"service unavailable",
	"header not found",
	"unexpected eof",
}

// IsTransient reports whether err is a network level failure worth retrying. Reverts, not-found
// results and nonce errors are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	if IsNonceError(err) || IsRevert(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var jerr jsonError
	if errors.As(err, &jerr) && (jerr.ErrorCode() == -32005 || jerr.ErrorCode() == -32603) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// revertMessages are fragments of node error messages for a call the EVM rejected.
var revertMessages = []string{
	"execution reverted",
	"vm exception while processing transaction",
	"reverted with reason string",
	"reverted with custom error",
}

// IsRevert reports whether err is the EVM rejecting a call. An error carrying revert data is a
// revert whatever its code, since some nodes report reverts as -32603.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}

	var jerr jsonError
	if errors.As(err, &jerr) {
		if data, ok := jerr.ErrorData().(string); ok {
			if raw, derr := hexutil.Decode(data); derr == nil && len(raw) > 0 {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range revertMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// IsNonceError reports whether the node rejected a transaction because of its nonce.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// maybeDataErr appends the error data of an rpc.DataError to its message for logging.
func maybeDataErr(err error) error {
	var d rpc.DataError
	if errors.As(err, &d) {
		return fmt.Errorf("%s: %v", d.Error(), d.ErrorData())
	}

	return err
}
