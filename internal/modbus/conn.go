package modbus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// Conn is the transport underneath a Link: an io.ReadWriteCloser with
// per-call deadlines. net.Conn satisfies it directly; serial ports are
// adapted below.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// inputFlusher is implemented by transports that can discard unread input.
// The RTU link flushes before each request so a late response to an earlier,
// timed-out request is not mistaken for the current one.
type inputFlusher interface {
	ResetInputBuffer() error
}

// serialConn adapts a serial port to the Conn interface and pins down
// exclusive ownership of the device with an advisory lock. The field bus is
// half-duplex; two processes sharing one port would corrupt each other's
// frames, so a second opener fails fast with ErrPortBusy.
type serialConn struct {
	port serial.Port
	lock *os.File
}

// openSerial opens the device at the given baudrate with the fixed 8N1
// framing of the reference deployment.
func openSerial(device string, baudrate int) (*serialConn, error) {
	lock, err := lockDevice(device)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		_ = lock.Close()

		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, device, err)
	}

	return &serialConn{port: port, lock: lock}, nil
}

// lockDevice takes a non-blocking exclusive flock on a lock file derived
// from the device path. The lock is released when the file is closed, so a
// crashed holder never wedges the port.
func lockDevice(device string) (*os.File, error) {
	name := "vibro-sentinel-" + strings.ReplaceAll(strings.TrimPrefix(device, "/"), "/", "-") + ".lock"
	path := filepath.Join(os.TempDir(), name)

	lock, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open port lock: %w", err)
	}

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lock.Close()

		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s", ErrPortBusy, device)
		}

		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	return lock, nil
}

// Read reads from the port. The serial library reports an expired read
// timeout as a zero-byte read; that is folded into the deadline error the
// rest of the package expects.
func (c *serialConn) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}

	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// SetReadDeadline converts the absolute deadline into the port's relative
// read timeout.
func (c *serialConn) SetReadDeadline(t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}

	return c.port.SetReadTimeout(d)
}

// SetWriteDeadline is a no-op: serial writes complete into the kernel
// buffer and do not block for the response.
func (c *serialConn) SetWriteDeadline(time.Time) error {
	return nil
}

// ResetInputBuffer discards pending unread input.
func (c *serialConn) ResetInputBuffer() error {
	return c.port.ResetInputBuffer()
}

// Close releases the port and its ownership lock.
func (c *serialConn) Close() error {
	err := c.port.Close()
	if c.lock != nil {
		_ = c.lock.Close()
	}

	return err
}
