// package wiz holds the WIZnet W5500 register map and SPI frame definitions.
package wiz

// Common register block offsets.
const (
	MR       = 0x0000
	GAR      = 0x0001 // 4 bytes
	SUBR     = 0x0005 // 4 bytes
	SHAR     = 0x0009 // 6 bytes
	SIPR     = 0x000f // 4 bytes
	INTLEVEL = 0x0013
	IR       = 0x0015
	IMR      = 0x0016
	SIR      = 0x0017
	SIMR     = 0x0018
	RTR      = 0x0019
	RCR      = 0x001b
	PHYCFGR  = 0x002e
	VERSIONR = 0x0039
)

// Socket register block offsets.
const (
	Sn_MR         = 0x0000
	Sn_CR         = 0x0001
	Sn_IR         = 0x0002
	Sn_SR         = 0x0003
	Sn_RXBUF_SIZE = 0x001e
	Sn_TXBUF_SIZE = 0x001f
	Sn_TX_FSR     = 0x0020
	Sn_TX_RD      = 0x0022
	Sn_TX_WR      = 0x0024
	Sn_RX_RSR     = 0x0026
	Sn_RX_RD      = 0x0028
	Sn_RX_WR      = 0x002a
	Sn_IMR        = 0x002c
)

// MR bits.
const (
	MR_RST = 0x80
)

// Sn_MR bits.
const (
	Sn_MR_CLOSE  = 0x00
	Sn_MR_MACRAW = 0x04
	Sn_MR_MIP6B  = 0x10
	Sn_MR_MMB    = 0x20
	Sn_MR_BCASTB = 0x40
	Sn_MR_MFEN   = 0x80
)

// Sn_CR commands. The chip clears Sn_CR once a command is accepted.
const (
	Sn_CR_OPEN  = 0x01
	Sn_CR_CLOSE = 0x10
	Sn_CR_SEND  = 0x20
	Sn_CR_RECV  = 0x40
)

// Sn_SR values.
const (
	SOCK_CLOSED = 0x00
	SOCK_MACRAW = 0x42
)

// Sn_IR bits.
const (
	Sn_IR_SENDOK  = 0x10
	Sn_IR_TIMEOUT = 0x08
	Sn_IR_RECV    = 0x04
)

// PHYCFGR bits.
const (
	PHYCFGR_LNK = 0x01
	PHYCFGR_SPD = 0x02
	PHYCFGR_DPX = 0x04
	PHYCFGR_RST = 0x80
)

// VERSIONR signatures. VersionSupported is the only value drivers accept.
// Some silicon reports VersionRev82 while behaving identically.
const (
	VersionSupported = 0x04
	VersionRev82     = 0x82
)

const (
	// MaxSockets is the number of hardware sockets, each with its own register
	// and buffer blocks.
	MaxSockets = 8
	// BufferMemory is the total TX (and total RX) buffer memory in bytes shared by all sockets.
	BufferMemory = 16 * 1024
)
