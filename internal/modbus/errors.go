package modbus

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrTimeout is returned when no (complete) response arrives within the
	// transaction timeout. Retried with backoff up to the configured budget.
	ErrTimeout = errors.New("modbus: response timeout")
	// ErrCRC is returned when a serial response frame fails its CRC check.
	// Retried, since it indicates line noise rather than a device decision.
	ErrCRC = errors.New("modbus: bad frame CRC")
	// ErrFrame is returned when a response cannot be parsed: wrong unit id,
	// unexpected function code, impossible length. Retried.
	ErrFrame = errors.New("modbus: bad frame")
	// ErrConnection is returned when the underlying transport fails. Not
	// retried within a transaction; the caller decides how a dead link maps
	// to fault level.
	ErrConnection = errors.New("modbus: connection error")
	// ErrPortBusy is returned when the serial device is already held by
	// another process. Serial links are opened exclusively.
	ErrPortBusy = errors.New("modbus: serial port held by another process")
	// ErrClosed is returned for transactions on a closed link.
	ErrClosed = errors.New("modbus: link is closed")
)

// ExceptionError is a protocol-level negative acknowledgement from the
// device: a well-formed request that the device rejected. It is deterministic
// and therefore never retried.
type ExceptionError struct {
	// Function is the request function code the device rejected.
	Function FnCode
	// Code is the device-reported exception code.
	Code ExCode
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception response [%s: %s]", e.Function, e.Code)
}

// IsTransient reports whether the error is worth retrying on the same link:
// timeouts and garbled frames, but not exception responses or a dead
// connection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCRC) || errors.Is(err, ErrFrame)
}

// classifyIOError folds transport-level read/write errors into the package
// taxonomy: deadline expiries become ErrTimeout, everything else a
// connection error.
func classifyIOError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrConnection, err)
}
