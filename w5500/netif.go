package w5500

import (
	"log/slog"
	"net"

	"github.com/soypat/w5500patch/wiz"
)

// Link is the PHY state reported by PHYCFGR.
type Link struct {
	Up         bool
	Speed100   bool
	FullDuplex bool
}

func (l Link) String() string {
	if !l.Up {
		return "down"
	}
	s := "up 10M"
	if l.Speed100 {
		s = "up 100M"
	}
	if l.FullDuplex {
		return s + " full"
	}
	return s + " half"
}

// MTU (maximum transmission unit) returns the maximum amount
// of bytes that can be sent in a single ethernet frame in a call to SendEth.
func (m *MAC) MTU() int { return MTU }

// HardwareAddr6 returns the chip's 6-byte [MAC address] as stored in SHAR.
//
// [MAC address]: https://en.wikipedia.org/wiki/MAC_address
func (m *MAC) HardwareAddr6() (addr [6]byte, err error) {
	m.lock()
	defer m.unlock()
	err = m.read(wiz.BlockCommon, wiz.SHAR, addr[:])
	return addr, err
}

// SetHardwareAddr6 writes addr to SHAR.
func (m *MAC) SetHardwareAddr6(addr [6]byte) error {
	m.lock()
	defer m.unlock()
	return m.write(wiz.BlockCommon, wiz.SHAR, addr[:])
}

// LinkStatus reads the PHY link state.
func (m *MAC) LinkStatus() (Link, error) {
	m.lock()
	defer m.unlock()
	return m.linkStatus()
}

func (m *MAC) linkStatus() (Link, error) {
	phy, err := m.read8(wiz.BlockCommon, wiz.PHYCFGR)
	if err != nil {
		return Link{}, err
	}
	link := Link{
		Up:         phy&wiz.PHYCFGR_LNK != 0,
		Speed100:   phy&wiz.PHYCFGR_SPD != 0,
		FullDuplex: phy&wiz.PHYCFGR_DPX != 0,
	}
	if link != m.link {
		m.info("w5500:link", slog.String("state", link.String()))
		m.link = link
	}
	return link, nil
}

// RecvEthHandle sets handler for receiving Ethernet pkt
// If set to nil then incoming packets are ignored.
func (m *MAC) RecvEthHandle(handler func(pkt []byte) error) {
	m.lock()
	defer m.unlock()
	m.rcvEth = handler
}

// PollOne attempts to read a packet from the device. Returns true if a packet
// was read, false if no packet was available.
func (m *MAC) PollOne() (bool, error) {
	m.lock()
	defer m.unlock()
	n, err := m.recvEth(m.rxbuf[:])
	if err != nil || n == 0 {
		return false, err
	}
	if m.rcvEth != nil {
		// Handler must not retain pkt, it is backed by rxbuf.
		err = m.rcvEth(m.rxbuf[:n])
	}
	return true, err
}

// NetFlags returns the current network flags for the device.
func (m *MAC) NetFlags() (flags net.Flags) {
	// Define net.Flags locally since not all Tinygo versions have them fully defined.
	const (
		FlagUp           net.Flags = 1 << iota // interface is administratively up
		FlagBroadcast                          // interface supports broadcast access capability
		FlagLoopback                           // interface is a loopback interface
		FlagPointToPoint                       // interface belongs to a point-to-point link
		FlagMulticast                          // interface supports multicast access capability
		FlagRunning                            // interface is in running state
	)
	m.lock()
	defer m.unlock()
	if !m.started {
		return 0
	}
	flags |= FlagUp | FlagBroadcast | FlagMulticast
	if m.link.Up {
		flags |= FlagRunning
	}
	return flags
}
