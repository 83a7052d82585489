// Package chipsim simulates a W5500 register file behind its SPI frame
// protocol. It implements drivers.SPI so it can be placed under a spibus.Bus
// in tests.
package chipsim

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/soypat/w5500patch/wiz"
)

const (
	commonSize = 0x40
	socketSize = 0x30
	maxBufKB   = 16
	// PHYLinkUp100Full is the PHYCFGR value of an auto-negotiated 100M full duplex link.
	PHYLinkUp100Full = 0xbf
)

// Frame is a completed chip select window as seen by the chip.
type Frame struct {
	Header wiz.Header
	// Data holds written bytes for writes and returned bytes for reads.
	Data []byte
}

var errTxMismatch = errors.New("chipsim: tx and rx buffers differ in length")

// W5500 is a simulated chip. The zero value is not usable, use [New].
type W5500 struct {
	mu       sync.Mutex
	version  byte
	phy      byte
	selected bool
	hdr      [wiz.HeaderLen]byte
	nhdr     int
	ptr      uint16
	cur      Frame
	frames   []Frame
	sent     [][]byte
	failNext error
	common   [commonSize]byte
	sockets  [wiz.MaxSockets][socketSize]byte
	txbuf    [wiz.MaxSockets][maxBufKB * 1024]byte
	rxbuf    [wiz.MaxSockets][maxBufKB * 1024]byte
}

// New returns a simulated chip reporting version in VERSIONR with the link up.
func New(version byte) *W5500 {
	c := &W5500{version: version, phy: PHYLinkUp100Full}
	c.reset()
	return c
}

// SetPHY sets the value reported by PHYCFGR.
func (c *W5500) SetPHY(phycfgr byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phy = phycfgr
	c.common[wiz.PHYCFGR] = phycfgr
}

// FailNext makes the next Tx or Transfer call return err without touching any buffer.
func (c *W5500) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// Frames returns all completed frames since creation.
func (c *W5500) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Sent returns the ethernet frames transmitted with the SEND command.
func (c *W5500) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// CS drives the chip select line.
func (c *W5500) CS(level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !level {
		c.selected = true
		c.nhdr = 0
		return
	}
	if c.selected && c.nhdr == wiz.HeaderLen {
		c.frames = append(c.frames, c.cur)
	}
	c.selected = false
}

// Tx implements drivers.SPI. If both w and r are non-nil they must be the same length.
func (c *W5500) Tx(w, r []byte) error {
	if w != nil && r != nil && len(w) != len(r) {
		return errTxMismatch
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	n := max(len(w), len(r))
	for i := 0; i < n; i++ {
		var in byte
		if w != nil {
			in = w[i]
		}
		out := c.transfer(in)
		if r != nil {
			r[i] = out
		}
	}
	return nil
}

// Transfer implements drivers.SPI.
func (c *W5500) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return 0, err
	}
	return c.transfer(b), nil
}

// Inject places an ethernet frame in the socket 0 RX buffer the way the chip
// does in MACRAW mode: a 2 byte big endian length (including itself) followed by the frame.
// Returns false if the frame does not fit.
func (c *W5500) Inject(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := c.bufsize(0, wiz.Sn_RXBUF_SIZE)
	wr := c.get16(0, wiz.Sn_RX_WR)
	used := int(wr - c.get16(0, wiz.Sn_RX_RD))
	if size == 0 || used+len(frame)+2 > size {
		return false
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)+2))
	for _, b := range append(hdr[:], frame...) {
		c.rxbuf[0][int(wr)&(size-1)] = b
		wr++
	}
	c.put16(0, wiz.Sn_RX_WR, wr)
	c.sockets[0][wiz.Sn_IR] |= wiz.Sn_IR_RECV
	return true
}

func (c *W5500) transfer(in byte) (out byte) {
	if !c.selected {
		return 0
	}
	if c.nhdr < wiz.HeaderLen {
		c.hdr[c.nhdr] = in
		c.nhdr++
		if c.nhdr == wiz.HeaderLen {
			h, _, _ := wiz.DecodeHeader(c.hdr[:])
			c.cur = Frame{Header: h}
			c.ptr = h.Offset
		}
		return 0
	}
	blk, write, _ := wiz.ParseControl(c.hdr[2])
	if write {
		c.writeByte(blk, c.ptr, in)
		out = in
	} else {
		out = c.readByte(blk, c.ptr)
	}
	c.cur.Data = append(c.cur.Data, out)
	c.ptr++
	return out
}

func (c *W5500) reset() {
	c.common = [commonSize]byte{}
	c.common[wiz.VERSIONR] = c.version
	c.common[wiz.PHYCFGR] = c.phy
	binary.BigEndian.PutUint16(c.common[wiz.RTR:], 2000)
	c.common[wiz.RCR] = 8
	for i := range c.sockets {
		c.sockets[i] = [socketSize]byte{}
		c.sockets[i][wiz.Sn_RXBUF_SIZE] = 2
		c.sockets[i][wiz.Sn_TXBUF_SIZE] = 2
	}
}

func (c *W5500) readByte(blk wiz.Block, off uint16) byte {
	switch {
	case blk.IsCommon():
		if int(off) < commonSize {
			return c.common[off]
		}
	case blk%4 == 1:
		return c.readSocketReg(blk.Socket(), off)
	case blk%4 == 2:
		if size := c.bufsize(blk.Socket(), wiz.Sn_TXBUF_SIZE); size > 0 {
			return c.txbuf[blk.Socket()][int(off)&(size-1)]
		}
	case blk%4 == 3:
		if size := c.bufsize(blk.Socket(), wiz.Sn_RXBUF_SIZE); size > 0 {
			return c.rxbuf[blk.Socket()][int(off)&(size-1)]
		}
	}
	return 0
}

func (c *W5500) readSocketReg(sock uint8, off uint16) byte {
	var v uint16
	switch off {
	case wiz.Sn_TX_FSR, wiz.Sn_TX_FSR + 1:
		v = uint16(c.bufsize(sock, wiz.Sn_TXBUF_SIZE)) - (c.get16(sock, wiz.Sn_TX_WR) - c.get16(sock, wiz.Sn_TX_RD))
	case wiz.Sn_RX_RSR, wiz.Sn_RX_RSR + 1:
		v = c.get16(sock, wiz.Sn_RX_WR) - c.get16(sock, wiz.Sn_RX_RD)
	default:
		if int(off) < socketSize {
			return c.sockets[sock][off]
		}
		return 0
	}
	if off&1 == 0 {
		return byte(v >> 8)
	}
	return byte(v)
}

func (c *W5500) writeByte(blk wiz.Block, off uint16, v byte) {
	switch {
	case blk.IsCommon():
		if off == wiz.MR && v&wiz.MR_RST != 0 {
			c.reset()
			return
		}
		if off == wiz.VERSIONR || off == wiz.PHYCFGR || int(off) >= commonSize {
			return // Read only.
		}
		c.common[off] = v
	case blk%4 == 1:
		c.writeSocketReg(blk.Socket(), off, v)
	case blk%4 == 2:
		if size := c.bufsize(blk.Socket(), wiz.Sn_TXBUF_SIZE); size > 0 {
			c.txbuf[blk.Socket()][int(off)&(size-1)] = v
		}
	case blk%4 == 3:
		if size := c.bufsize(blk.Socket(), wiz.Sn_RXBUF_SIZE); size > 0 {
			c.rxbuf[blk.Socket()][int(off)&(size-1)] = v
		}
	}
}

func (c *W5500) writeSocketReg(sock uint8, off uint16, v byte) {
	switch off {
	case wiz.Sn_CR:
		c.command(sock, v)
	case wiz.Sn_IR:
		c.sockets[sock][off] &^= v
	case wiz.Sn_SR, wiz.Sn_TX_FSR, wiz.Sn_TX_FSR + 1, wiz.Sn_TX_RD, wiz.Sn_TX_RD + 1,
		wiz.Sn_RX_RSR, wiz.Sn_RX_RSR + 1, wiz.Sn_RX_WR, wiz.Sn_RX_WR + 1:
		// Read only.
	default:
		if int(off) < socketSize {
			c.sockets[sock][off] = v
		}
	}
}

func (c *W5500) command(sock uint8, cmd byte) {
	regs := &c.sockets[sock]
	switch cmd {
	case wiz.Sn_CR_OPEN:
		if sock == 0 && regs[wiz.Sn_MR]&0x0f == wiz.Sn_MR_MACRAW {
			regs[wiz.Sn_SR] = wiz.SOCK_MACRAW
		}
		for _, ptr := range []uint16{wiz.Sn_TX_RD, wiz.Sn_TX_WR, wiz.Sn_RX_RD, wiz.Sn_RX_WR} {
			c.put16(sock, ptr, 0)
		}
	case wiz.Sn_CR_CLOSE:
		regs[wiz.Sn_SR] = wiz.SOCK_CLOSED
	case wiz.Sn_CR_SEND:
		size := c.bufsize(sock, wiz.Sn_TXBUF_SIZE)
		rd, wr := c.get16(sock, wiz.Sn_TX_RD), c.get16(sock, wiz.Sn_TX_WR)
		var frame []byte
		for ; rd != wr; rd++ {
			frame = append(frame, c.txbuf[sock][int(rd)&(size-1)])
		}
		c.sent = append(c.sent, frame)
		c.put16(sock, wiz.Sn_TX_RD, wr)
		regs[wiz.Sn_IR] |= wiz.Sn_IR_SENDOK
	case wiz.Sn_CR_RECV:
		// RX_RD already advanced by the host, Sn_RX_RSR is derived from it.
	}
}

func (c *W5500) bufsize(sock uint8, reg uint16) int {
	kb := int(c.sockets[sock][reg])
	if kb > maxBufKB {
		kb = maxBufKB
	}
	return kb * 1024
}

func (c *W5500) get16(sock uint8, reg uint16) uint16 {
	return binary.BigEndian.Uint16(c.sockets[sock][reg:])
}

func (c *W5500) put16(sock uint8, reg uint16, v uint16) {
	binary.BigEndian.PutUint16(c.sockets[sock][reg:], v)
}
