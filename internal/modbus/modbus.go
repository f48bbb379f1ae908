package modbus

import "fmt"

// Modbus ADU and PDU sizes (bytes).
const (
	// MaxPDU is the maximum Modbus PDU size.
	MaxPDU = 253
	// SerHeadSz is the serial ADU header size (unit id).
	SerHeadSz = 1
	// SerCRCSz is the serial ADU CRC trailer size.
	SerCRCSz = 2
	// TCPHeadSz is the MBAP header size (transaction, protocol, length, unit).
	TCPHeadSz = 7
)

// ExcFlag is the exception flag. It is set on the function code of a
// response to indicate an exception (error) reply.
const ExcFlag byte = 1 << 7

// FnCode is a Modbus function code. Only the codes the daemons use on the
// wire are defined; anything else in a response is a framing error.
type FnCode byte

const (
	// FnReadHoldingRegisters reads a run of 16-bit holding registers (0x03).
	FnReadHoldingRegisters FnCode = 0x03
	// FnWriteRegister writes a single holding register (0x06).
	FnWriteRegister FnCode = 0x06
	// FnWriteRegisters writes a run of holding registers (0x10).
	FnWriteRegisters FnCode = 0x10
)

// String names the function code for logs.
func (f FnCode) String() string {
	switch f {
	case FnReadHoldingRegisters:
		return "read-holding-registers"
	case FnWriteRegister:
		return "write-register"
	case FnWriteRegisters:
		return "write-registers"
	default:
		return fmt.Sprintf("fn(0x%02x)", byte(f))
	}
}

// ExCode is a Modbus exception code, the second byte of an exception response.
type ExCode uint8

const (
	// ExBadFnCode reports an unsupported function code (0x01).
	ExBadFnCode ExCode = 0x01
	// ExBadAddress reports an invalid register address (0x02).
	ExBadAddress ExCode = 0x02
	// ExBadValue reports an invalid register value (0x03).
	ExBadValue ExCode = 0x03
	// ExServerFailure reports an unrecoverable device error (0x04).
	ExServerFailure ExCode = 0x04
	// ExAck reports a long-running command was accepted (0x05).
	ExAck ExCode = 0x05
	// ExServerBusy reports the device is busy (0x06).
	ExServerBusy ExCode = 0x06
	// ExGatewayPath reports a misconfigured gateway path (0x0a).
	ExGatewayPath ExCode = 0x0a
	// ExGatewayTarget reports a gateway target that did not respond (0x0b).
	ExGatewayTarget ExCode = 0x0b
)

// String names the exception code for logs.
func (e ExCode) String() string {
	switch e {
	case ExBadFnCode:
		return "illegal function"
	case ExBadAddress:
		return "illegal data address"
	case ExBadValue:
		return "illegal data value"
	case ExServerFailure:
		return "server device failure"
	case ExAck:
		return "acknowledge"
	case ExServerBusy:
		return "server device busy"
	case ExGatewayPath:
		return "gateway path unavailable"
	case ExGatewayTarget:
		return "gateway target failed to respond"
	default:
		return fmt.Sprintf("exception(0x%02x)", uint8(e))
	}
}
