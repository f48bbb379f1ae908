package modbus

import (
	"fmt"
	"io"
	"time"

	"github.com/npat-efault/crc16"
)

// pU16 appends a 16-bit word, big endian.
func pU16(b []byte, w uint16) []byte {
	return append(b, byte(w>>8), byte(w))
}

// uU16 unpacks a 16-bit word, big endian.
func uU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// appendCRC appends the Modbus CRC-16 over b, less-important byte first.
func appendCRC(b []byte) []byte {
	crc := crc16.Checksum(crc16.Modbus, b)

	return append(b, byte(crc), byte(crc>>8))
}

// checkCRC verifies the CRC trailer of a serial ADU.
func checkCRC(adu []byte) bool {
	n := len(adu)
	if n < SerHeadSz+SerCRCSz {
		return false
	}

	crc := crc16.Checksum(crc16.Modbus, adu[:n-SerCRCSz])
	stored := uint16(adu[n-2]) | uint16(adu[n-1])<<8

	return crc == stored
}

// readHoldingPDU builds the FC 0x03 request PDU.
func readHoldingPDU(addr, count uint16) []byte {
	b := []byte{byte(FnReadHoldingRegisters)}
	b = pU16(b, addr)
	b = pU16(b, count)

	return b
}

// writeRegisterPDU builds the FC 0x06 request PDU.
func writeRegisterPDU(addr, value uint16) []byte {
	b := []byte{byte(FnWriteRegister)}
	b = pU16(b, addr)
	b = pU16(b, value)

	return b
}

// writeRegistersPDU builds the FC 0x10 request PDU.
func writeRegistersPDU(addr uint16, values []uint16) []byte {
	b := []byte{byte(FnWriteRegisters)}
	b = pU16(b, addr)
	b = pU16(b, uint16(len(values)))
	b = append(b, byte(2*len(values)))

	for _, v := range values {
		b = pU16(b, v)
	}

	return b
}

// parseResponsePDU validates a response PDU against the request function
// code, converting exception responses into ExceptionError.
func parseResponsePDU(pdu []byte, want FnCode) error {
	if len(pdu) < 2 {
		return ErrFrame
	}

	if pdu[0]&ExcFlag != 0 {
		return &ExceptionError{
			Function: FnCode(pdu[0] & ^ExcFlag),
			Code:     ExCode(pdu[1]),
		}
	}

	if FnCode(pdu[0]) != want {
		return fmt.Errorf("%w: unexpected function code 0x%02x", ErrFrame, pdu[0])
	}

	return nil
}

// parseReadHoldingResponse extracts register values from a FC 0x03 response PDU.
func parseReadHoldingResponse(pdu []byte, count uint16) ([]uint16, error) {
	if err := parseResponsePDU(pdu, FnReadHoldingRegisters); err != nil {
		return nil, err
	}

	if len(pdu) < 2 || int(pdu[1]) != int(count)*2 || len(pdu) != 2+int(pdu[1]) {
		return nil, fmt.Errorf("%w: byte count mismatch", ErrFrame)
	}

	values := make([]uint16, count)
	for i := range values {
		values[i] = uU16(pdu[2+2*i:])
	}

	return values, nil
}

// codec frames requests and unframes responses on one transport variant.
// Implementations are not safe for concurrent use; the Link serializes.
type codec interface {
	writeRequest(conn Conn, unit uint8, pdu []byte, deadline time.Time) error
	readResponse(conn Conn, unit uint8, deadline time.Time) ([]byte, error)
}

// rtuCodec frames serial ADUs: unit id + PDU + CRC-16.
type rtuCodec struct{}

func (rtuCodec) writeRequest(conn Conn, unit uint8, pdu []byte, deadline time.Time) error {
	adu := make([]byte, 0, SerHeadSz+len(pdu)+SerCRCSz)
	adu = append(adu, unit)
	adu = append(adu, pdu...)
	adu = appendCRC(adu)

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classifyIOError(err)
	}

	if _, err := conn.Write(adu); err != nil {
		return classifyIOError(err)
	}

	return nil
}

// readResponse reads one serial response ADU. The response length is derived
// from the function code, so a partial frame shows up as a timeout and a
// corrupted one as a CRC or framing error.
func (rtuCodec) readResponse(conn Conn, unit uint8, deadline time.Time) ([]byte, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, classifyIOError(err)
	}

	adu := make([]byte, SerHeadSz+2, SerHeadSz+MaxPDU+SerCRCSz)
	if _, err := io.ReadFull(conn, adu); err != nil {
		return nil, classifyIOError(err)
	}

	total, err := serResponseSize(adu)
	if err != nil {
		return nil, err
	}

	adu = adu[:total]
	if _, err := io.ReadFull(conn, adu[SerHeadSz+2:]); err != nil {
		return nil, classifyIOError(err)
	}

	if !checkCRC(adu) {
		return nil, ErrCRC
	}

	if adu[0] != unit {
		return nil, fmt.Errorf("%w: unit id mismatch, want %d, got %d", ErrFrame, unit, adu[0])
	}

	return adu[SerHeadSz : total-SerCRCSz], nil
}

// serResponseSize returns the full serial ADU size implied by the first
// three bytes of a response.
func serResponseSize(head []byte) (int, error) {
	if head[1]&ExcFlag != 0 {
		return SerHeadSz + 2 + SerCRCSz, nil
	}

	switch FnCode(head[1]) {
	case FnReadHoldingRegisters:
		return SerHeadSz + 2 + int(head[2]) + SerCRCSz, nil
	case FnWriteRegister, FnWriteRegisters:
		return SerHeadSz + 5 + SerCRCSz, nil
	default:
		return 0, fmt.Errorf("%w: unexpected function code 0x%02x", ErrFrame, head[1])
	}
}

// tcpCodec frames Modbus TCP ADUs: MBAP header + PDU. Transaction ids
// increment per request and are checked on the response.
type tcpCodec struct {
	trans uint16
}

func (c *tcpCodec) writeRequest(conn Conn, unit uint8, pdu []byte, deadline time.Time) error {
	c.trans++

	adu := make([]byte, 0, TCPHeadSz+len(pdu))
	adu = pU16(adu, c.trans)
	adu = pU16(adu, 0) // protocol id
	adu = pU16(adu, uint16(1+len(pdu)))
	adu = append(adu, unit)
	adu = append(adu, pdu...)

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classifyIOError(err)
	}

	if _, err := conn.Write(adu); err != nil {
		return classifyIOError(err)
	}

	return nil
}

func (c *tcpCodec) readResponse(conn Conn, unit uint8, deadline time.Time) ([]byte, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, classifyIOError(err)
	}

	head := make([]byte, TCPHeadSz)
	if _, err := io.ReadFull(conn, head); err != nil {
		return nil, classifyIOError(err)
	}

	if uU16(head[0:]) != c.trans {
		return nil, fmt.Errorf("%w: transaction id mismatch", ErrFrame)
	}

	if uU16(head[2:]) != 0 {
		return nil, fmt.Errorf("%w: bad protocol id", ErrFrame)
	}

	length := int(uU16(head[4:]))
	if length < 2 || length > 1+MaxPDU {
		return nil, fmt.Errorf("%w: impossible length %d", ErrFrame, length)
	}

	if head[6] != unit {
		return nil, fmt.Errorf("%w: unit id mismatch, want %d, got %d", ErrFrame, unit, head[6])
	}

	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(conn, pdu); err != nil {
		return nil, classifyIOError(err)
	}

	return pdu, nil
}
