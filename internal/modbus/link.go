package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Mode selects the transport variant of a Link.
type Mode string

const (
	// ModeRTU is Modbus over an asynchronous serial line.
	ModeRTU Mode = "rtu"
	// ModeTCP is Modbus over a TCP socket.
	ModeTCP Mode = "tcp"
)

// Config holds the link parameters. The retry policy lives here, not at the
// call sites: orchestration loops stay single-attempt-per-tick and the link
// decides how to tolerate a flaky line.
type Config struct {
	// Mode is ModeRTU or ModeTCP.
	Mode Mode
	// Device is the serial device path (RTU).
	Device string
	// Baudrate is the serial bitrate (RTU), default 9600.
	Baudrate int
	// Address is the host:port (TCP).
	Address string
	// Timeout bounds one request/response round trip.
	Timeout time.Duration
	// MaxRetries is how many extra attempts a transient failure gets.
	MaxRetries int
	// BackoffBase is the first retry delay; subsequent delays grow
	// exponentially up to BackoffCap.
	BackoffBase time.Duration
	// BackoffCap is the retry delay ceiling.
	BackoffCap time.Duration
}

// withDefaults fills unset config fields.
func (c Config) withDefaults() Config {
	if c.Baudrate <= 0 {
		c.Baudrate = 9600
	}

	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}

	if c.BackoffCap <= 0 {
		c.BackoffCap = 2 * time.Second
	}

	return c
}

// Link is a Modbus master on one physical transport. It keeps a single
// connection across polls and allows one in-flight transaction at a time:
// RTU is half-duplex, and the TCP variant is kept single-outstanding for the
// same determinism.
type Link struct {
	// mu serializes transactions on the shared line.
	mu     sync.Mutex
	cfg    Config
	conn   Conn
	codec  codec
	closed bool
}

// Dial opens the transport described by cfg and returns a ready Link.
func Dial(cfg Config) (*Link, error) {
	cfg = cfg.withDefaults()

	switch cfg.Mode {
	case ModeRTU:
		conn, err := openSerial(cfg.Device, cfg.Baudrate)
		if err != nil {
			return nil, err
		}

		return NewLink(conn, cfg), nil
	case ModeTCP:
		conn, err := net.DialTimeout("tcp", cfg.Address, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, cfg.Address, err)
		}

		return NewLink(conn, cfg), nil
	default:
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
	}
}

// NewLink wraps an already-open transport. Used by Dial and by tests that
// drive the link over an in-memory connection.
func NewLink(conn Conn, cfg Config) *Link {
	cfg = cfg.withDefaults()

	var c codec
	if cfg.Mode == ModeTCP {
		c = &tcpCodec{}
	} else {
		c = rtuCodec{}
	}

	return &Link{
		cfg:   cfg,
		conn:  conn,
		codec: c,
	}
}

// ReadHoldingRegisters reads count registers starting at addr from the unit
// (function 0x03).
func (l *Link) ReadHoldingRegisters(ctx context.Context, unit uint8, addr, count uint16) ([]uint16, error) {
	if count < 1 || count > 125 {
		return nil, fmt.Errorf("read %d registers: count out of range", count)
	}

	pdu, err := l.transact(ctx, unit, readHoldingPDU(addr, count))
	if err != nil {
		return nil, err
	}

	return parseReadHoldingResponse(pdu, count)
}

// WriteRegister writes one register on the unit (function 0x06) and checks
// the device's echo.
func (l *Link) WriteRegister(ctx context.Context, unit uint8, addr, value uint16) error {
	pdu, err := l.transact(ctx, unit, writeRegisterPDU(addr, value))
	if err != nil {
		return err
	}

	if err := parseResponsePDU(pdu, FnWriteRegister); err != nil {
		return err
	}

	if len(pdu) != 5 || uU16(pdu[1:]) != addr || uU16(pdu[3:]) != value {
		return fmt.Errorf("%w: write echo mismatch", ErrFrame)
	}

	return nil
}

// WriteRegisters writes a run of registers starting at addr on the unit
// (function 0x10).
func (l *Link) WriteRegisters(ctx context.Context, unit uint8, addr uint16, values []uint16) error {
	if len(values) < 1 || len(values) > 123 {
		return fmt.Errorf("write %d registers: count out of range", len(values))
	}

	pdu, err := l.transact(ctx, unit, writeRegistersPDU(addr, values))
	if err != nil {
		return err
	}

	if err := parseResponsePDU(pdu, FnWriteRegisters); err != nil {
		return err
	}

	if len(pdu) != 5 || uU16(pdu[1:]) != addr || int(uU16(pdu[3:])) != len(values) {
		return fmt.Errorf("%w: write acknowledgement mismatch", ErrFrame)
	}

	return nil
}

// Close shuts the transport down. Subsequent transactions fail with ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	return l.conn.Close()
}

// transact performs one request/response exchange with the link's retry
// policy: transient failures (timeout, CRC, framing) are retried with
// exponential backoff up to MaxRetries; exception responses and connection
// failures are surfaced immediately.
func (l *Link) transact(ctx context.Context, unit uint8, reqPDU []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	var resPDU []byte

	attempt := func() error {
		pdu, err := l.attempt(unit, reqPDU)
		if err != nil {
			if IsTransient(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		resPDU = pdu

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.BackoffBase
	bo.MaxInterval = l.cfg.BackoffCap
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(l.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}

	return resPDU, nil
}

// attempt is a single framed exchange within the transaction timeout.
func (l *Link) attempt(unit uint8, reqPDU []byte) ([]byte, error) {
	// Drop any unread bytes from a previous, timed-out exchange.
	if f, ok := l.conn.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			return nil, classifyIOError(err)
		}
	}

	deadline := time.Now().Add(l.cfg.Timeout)

	if err := l.codec.writeRequest(l.conn, unit, reqPDU, deadline); err != nil {
		return nil, err
	}

	pdu, err := l.codec.readResponse(l.conn, unit, deadline)
	if err != nil {
		return nil, err
	}

	// An exception response is deterministic: surface it without retrying.
	if len(pdu) >= 2 && pdu[0]&ExcFlag != 0 {
		return nil, &ExceptionError{
			Function: FnCode(pdu[0] & ^ExcFlag),
			Code:     ExCode(pdu[1]),
		}
	}

	return pdu, nil
}

// IsException reports whether the error is a device exception response and
// extracts it when so.
func IsException(err error) (*ExceptionError, bool) {
	var exc *ExceptionError
	if errors.As(err, &exc) {
		return exc, true
	}

	return nil, false
}
