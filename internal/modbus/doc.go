// Package modbus implements the Modbus master side the two daemons need:
// read-holding-registers (0x03) for sensor polling and write-register
// (0x06/0x10) for alarm actuation, over serial RTU (CRC-16 framing) or TCP
// (MBAP framing).
//
// A Link keeps one connection across polls and serializes transactions, as
// the serial field bus is half-duplex. Transient failures (timeout, CRC,
// framing) are retried inside the link with exponential backoff and then
// surfaced; exception responses are device decisions and are never retried.
// The orchestrating loops decide how a persistently failing channel maps to
// a fault level.
package modbus
