package w5500

import (
	"encoding/binary"
	"time"

	"github.com/soypat/w5500patch/wiz"
)

// Register access. The caller must hold the MAC lock, except during New.

func (m *MAC) read(blk wiz.Block, off uint16, dst []byte) error {
	if m.closed {
		return ErrClosed
	}
	return m.conn.Read(uint32(off), uint32(wiz.Control(blk, false)), dst)
}

func (m *MAC) write(blk wiz.Block, off uint16, src []byte) error {
	if m.closed {
		return ErrClosed
	}
	return m.conn.Write(uint32(off), uint32(wiz.Control(blk, true)), src)
}

func (m *MAC) read8(blk wiz.Block, off uint16) (uint8, error) {
	err := m.read(blk, off, m.rwbuf[:1])
	return m.rwbuf[0], err
}

func (m *MAC) write8(blk wiz.Block, off uint16, v uint8) error {
	m.rwbuf[0] = v
	return m.write(blk, off, m.rwbuf[:1])
}

func (m *MAC) read16(blk wiz.Block, off uint16) (uint16, error) {
	err := m.read(blk, off, m.rwbuf[:2])
	return binary.BigEndian.Uint16(m.rwbuf[:2]), err
}

func (m *MAC) write16(blk wiz.Block, off uint16, v uint16) error {
	binary.BigEndian.PutUint16(m.rwbuf[:2], v)
	return m.write(blk, off, m.rwbuf[:2])
}

// read16Stable reads a 16 bit counter the chip may update mid-read
// until two consecutive reads agree, as the datasheet requires for Sn_TX_FSR and Sn_RX_RSR.
func (m *MAC) read16Stable(blk wiz.Block, off uint16) (uint16, error) {
	prev, err := m.read16(blk, off)
	for err == nil {
		var v uint16
		v, err = m.read16(blk, off)
		if v == prev {
			return v, err
		}
		prev = v
	}
	return 0, err
}

// command issues a socket 0 command and waits until the chip accepts it.
func (m *MAC) command(cmd uint8) error {
	blk := wiz.SocketRegister(0)
	err := m.write8(blk, wiz.Sn_CR, cmd)
	if err != nil {
		return err
	}
	for retries := 100; ; retries-- {
		got, err := m.read8(blk, wiz.Sn_CR)
		if err != nil {
			return err
		}
		if got == 0 {
			return nil
		} else if retries <= 0 {
			return errCommandTimeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}
