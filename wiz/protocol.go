package wiz

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// HeaderLen is the length of the W5500 SPI frame header: a 16 bit
// address phase followed by an 8 bit control phase.
const HeaderLen = 3

// Address phase and control phase widths in bits, as configured on the SPI host.
const (
	AddressPhaseBits = 16
	ControlPhaseBits = 8
)

// Control phase operation modes. OMVariable lets the chip select
// frame length with chip select.
const (
	OMVariable = 0b00
	OMFixed1   = 0b01
	OMFixed2   = 0b10
	OMFixed4   = 0b11
)

const (
	rwbPos = 2
	bsbPos = 3
)

var errShortHeader = errors.New("wiz: frame shorter than header")

// Block is the 5 bit block select of the control phase.
type Block uint8

// BlockCommon selects the common register block.
const BlockCommon Block = 0

// SocketRegister returns the register block of socket n.
func SocketRegister(n uint8) Block { return Block(n*4 + 1) }

// SocketTx returns the TX buffer block of socket n.
func SocketTx(n uint8) Block { return Block(n*4 + 2) }

// SocketRx returns the RX buffer block of socket n.
func SocketRx(n uint8) Block { return Block(n*4 + 3) }

// IsCommon reports whether b selects the common register block.
func (b Block) IsCommon() bool { return b == BlockCommon }

// Socket returns the socket number b belongs to. Only valid if b is not the common block.
func (b Block) Socket() uint8 { return uint8(b-1) / 4 }

func (b Block) String() string {
	switch {
	case b == BlockCommon:
		return "common"
	case b > 31:
		return "invalid"
	case b%4 == 0:
		return "reserved"
	}
	n := strconv.Itoa(int(b.Socket()))
	switch b % 4 {
	case 1:
		return "sock" + n + "-reg"
	case 2:
		return "sock" + n + "-tx"
	default:
		return "sock" + n + "-rx"
	}
}

// Control returns the control phase byte for an access to block b in
// variable length data mode.
func Control(b Block, write bool) uint8 {
	var rwb uint8
	if write {
		rwb = 1
	}
	return uint8(b&0x1f)<<bsbPos | rwb<<rwbPos | OMVariable
}

// ParseControl splits a control phase byte into its fields.
func ParseControl(ctl uint8) (b Block, write bool, om uint8) {
	return Block(ctl >> bsbPos), ctl&(1<<rwbPos) != 0, ctl & 0b11
}

// Header is the address and control phase of a W5500 SPI frame.
type Header struct {
	Offset  uint16
	Control uint8
}

// Block returns the block selected by the header.
func (h Header) Block() Block {
	b, _, _ := ParseControl(h.Control)
	return b
}

// IsWrite returns true if the frame writes to the chip.
func (h Header) IsWrite() bool {
	_, write, _ := ParseControl(h.Control)
	return write
}

func (h Header) String() string {
	b, write, om := ParseControl(h.Control)
	op := "read"
	if write {
		op = "write"
	}
	return op + " " + b.String() + " offset=0x" + strconv.FormatUint(uint64(h.Offset), 16) +
		" om=" + strconv.Itoa(int(om))
}

// Put writes the 3 byte header to dst. Panics if dst is shorter than HeaderLen.
func (h Header) Put(dst []byte) {
	_ = dst[HeaderLen-1]
	binary.BigEndian.PutUint16(dst, h.Offset)
	dst[2] = h.Control
}

// AppendHeader appends the frame header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	return append(dst, byte(h.Offset>>8), byte(h.Offset), h.Control)
}

// DecodeHeader decodes the header of a raw frame as seen on the MOSI line
// and returns the remaining data phase bytes.
func DecodeHeader(frame []byte) (h Header, data []byte, err error) {
	if len(frame) < HeaderLen {
		return h, nil, errShortHeader
	}
	h.Offset = binary.BigEndian.Uint16(frame)
	h.Control = frame[2]
	return h, frame[HeaderLen:], nil
}
