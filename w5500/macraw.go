package w5500

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/soypat/lneto"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/w5500patch/wiz"
)

// Start opens socket 0 in MACRAW mode with MAC filtering so only frames
// addressed to the chip, broadcast and multicast are received.
func (m *MAC) Start() error {
	m.lock()
	defer m.unlock()
	if m.started {
		return nil
	}
	blk := wiz.SocketRegister(0)
	err := m.write8(blk, wiz.Sn_MR, wiz.Sn_MR_MACRAW|wiz.Sn_MR_MFEN)
	if err != nil {
		return err
	}
	err = m.command(wiz.Sn_CR_OPEN)
	if err != nil {
		return err
	}
	sr, err := m.read8(blk, wiz.Sn_SR)
	if err != nil {
		return err
	} else if sr != wiz.SOCK_MACRAW {
		return errSocketNotOpen
	}
	m.started = true
	_, err = m.linkStatus()
	m.info("w5500:start")
	return err
}

// Stop closes socket 0. Frames are no longer sent or received.
func (m *MAC) Stop() error {
	m.lock()
	defer m.unlock()
	if !m.started {
		return nil
	}
	err := m.command(wiz.Sn_CR_CLOSE)
	if err != nil {
		return err
	}
	m.started = false
	m.info("w5500:stop")
	return nil
}

// SendEth sends an Ethernet frame. The frame must not include the FCS, the chip appends it.
func (m *MAC) SendEth(pkt []byte) error {
	if len(pkt) > MTU {
		return errFrameTooLong
	}
	frm, err := ethernet.NewFrame(pkt)
	if err != nil {
		return err
	}
	var v lneto.Validator
	frm.ValidateSize(&v)
	if v.HasError() {
		return v.Err()
	}
	m.lock()
	defer m.unlock()
	if !m.started {
		return errNotStarted
	}
	blk := wiz.SocketRegister(0)
	free, err := m.read16Stable(blk, wiz.Sn_TX_FSR)
	if err != nil {
		return err
	} else if int(free) < len(pkt) {
		return errTxBusy
	}
	ptr, err := m.read16(blk, wiz.Sn_TX_WR)
	if err != nil {
		return err
	}
	err = m.write(wiz.SocketTx(0), ptr, pkt)
	if err != nil {
		return err
	}
	err = m.write16(blk, wiz.Sn_TX_WR, ptr+uint16(len(pkt)))
	if err != nil {
		return err
	}
	err = m.command(wiz.Sn_CR_SEND)
	if err != nil {
		return err
	}
	return m.waitSendOK()
}

func (m *MAC) waitSendOK() error {
	blk := wiz.SocketRegister(0)
	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		ir, err := m.read8(blk, wiz.Sn_IR)
		if err != nil {
			return err
		}
		if ir&wiz.Sn_IR_SENDOK != 0 {
			// Write one to clear.
			return m.write8(blk, wiz.Sn_IR, wiz.Sn_IR_SENDOK)
		} else if time.Since(deadline) > 0 {
			return errSendTimeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// RecvEth reads the next received frame into buf and returns its length.
// It returns 0 and a nil error if no frame is pending.
func (m *MAC) RecvEth(buf []byte) (int, error) {
	m.lock()
	defer m.unlock()
	return m.recvEth(buf)
}

func (m *MAC) recvEth(buf []byte) (int, error) {
	if !m.started {
		return 0, errNotStarted
	}
	blk := wiz.SocketRegister(0)
	pending, err := m.read16Stable(blk, wiz.Sn_RX_RSR)
	if err != nil || pending == 0 {
		return 0, err
	}
	ptr, err := m.read16(blk, wiz.Sn_RX_RD)
	if err != nil {
		return 0, err
	}
	var hdr [2]byte
	err = m.read(wiz.SocketRx(0), ptr, hdr[:])
	if err != nil {
		return 0, err
	}
	// MACRAW length header counts itself.
	total := binary.BigEndian.Uint16(hdr[:])
	if total <= 2 || total > pending {
		m.logerr("w5500:rx-length", slog.Uint64("hdr", uint64(total)), slog.Uint64("pending", uint64(pending)))
		return 0, errBadRxLength
	}
	flen := int(total) - 2
	if flen > len(buf) {
		err = errRxBufShort
	} else {
		err = m.read(wiz.SocketRx(0), ptr+2, buf[:flen])
	}
	if err == nil || err == errRxBufShort {
		// Consume the frame even if it did not fit.
		err2 := m.write16(blk, wiz.Sn_RX_RD, ptr+total)
		if err2 == nil {
			err2 = m.command(wiz.Sn_CR_RECV)
		}
		if err2 != nil {
			err = errjoin(err, err2)
		}
	}
	if err != nil {
		return 0, err
	}
	frm, err := ethernet.NewFrame(buf[:flen])
	if err != nil {
		return flen, err
	}
	var v lneto.Validator
	frm.ValidateSize(&v)
	m.trace("w5500:rx", slog.Int("len", flen))
	return flen, v.Err()
}
