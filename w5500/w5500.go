// Package w5500 implements a MAC driver for the WIZnet W5500 running its
// socket 0 in MACRAW mode. All register access goes through an [SPIConn]
// obtained from the configured [SPIDriver], which lets callers substitute
// the SPI transport without modifying the driver.
package w5500

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/w5500patch/spibus"
	"github.com/soypat/w5500patch/wiz"
)

// MTU is the largest ethernet frame (without FCS) that can be sent with SendEth.
const MTU = 1514

const defaultResetTimeout = 100 * time.Millisecond

var (
	// ErrUnsupportedChip is returned by New when VERSIONR does not hold the supported signature.
	ErrUnsupportedChip = errors.New("w5500: unsupported chip version")
	// ErrClosed is returned when using a MAC after Close.
	ErrClosed = errors.New("w5500: closed")

	errNoHost         = errors.New("w5500: nil SPI host")
	errSPIInit        = errors.New("w5500: SPI transport init failed")
	errResetTimeout   = errors.New("w5500: timeout waiting for soft reset")
	errCommandTimeout = errors.New("w5500: timeout waiting for socket command")
	errSendTimeout    = errors.New("w5500: timeout waiting for SEND_OK")
	errSocketNotOpen  = errors.New("w5500: socket 0 failed to enter MACRAW")
	errNotStarted     = errors.New("w5500: MAC not started")
	errTxBusy         = errors.New("w5500: not enough free TX buffer")
	errFrameTooLong   = errors.New("w5500: frame exceeds MTU")
	errRxBufShort     = errors.New("w5500: receive buffer too short, frame dropped")
	errBadRxLength    = errors.New("w5500: corrupt MACRAW length header")
)

// SPIConn is the transport used for every register access. cmd carries the
// 16 bit address phase (register offset) and addr the 8 bit control phase
// (block select, read/write bit and operation mode), matching a bus device
// configured with 16 command bits and 8 address bits.
type SPIConn interface {
	Read(cmd, addr uint32, buf []byte) error
	Write(cmd, addr uint32, buf []byte) error
	// Close releases the bus device. The connection must not be used afterwards.
	Close() error
}

// SPIDriver selects the transport used by the MAC.
// Init registers the chip on the bus and returns the connection, whose Read,
// Write and Close methods complete the transport contract.
type SPIDriver struct {
	Init func(cfg Config) (SPIConn, error)
}

// Config configures a MAC.
type Config struct {
	// Host is the SPI bus the chip is attached to.
	Host spibus.Host
	// Device is the bus device configuration of the chip.
	Device spibus.DeviceConfig
	// HardwareAddr is written to SHAR during New if not all zeros.
	HardwareAddr [6]byte
	// Driver overrides the SPI transport. The zero value selects the built-in transport.
	Driver SPIDriver
	// ResetTimeout bounds the wait for the soft reset to finish. Defaults to 100ms.
	ResetTimeout time.Duration
	Logger       *slog.Logger
}

// MAC is a W5500 MAC driver. Methods are safe for concurrent use.
type MAC struct {
	mu     sync.Mutex
	conn   SPIConn
	logger *slog.Logger
	rcvEth func([]byte) error
	closed bool
	// started is true while socket 0 is open in MACRAW.
	started bool
	link    Link
	rwbuf   [2]byte
	rxbuf   [MTU]byte
}

// New creates the SPI transport, resets the chip and checks its version.
// On any failure the transport is closed before returning.
func New(cfg Config) (*MAC, error) {
	if cfg.Host == nil {
		return nil, errNoHost
	}
	drv := cfg.Driver
	if drv.Init == nil {
		drv = StockDriver()
	}
	conn, err := drv.Init(cfg)
	if err != nil {
		return nil, errjoin(errSPIInit, err)
	}
	m := &MAC{conn: conn, logger: cfg.Logger}
	err = m.init(cfg)
	if err != nil {
		m.logerr("w5500:init", slog.String("err", err.Error()))
		return nil, errjoin(err, conn.Close())
	}
	return m, nil
}

func (m *MAC) init(cfg Config) (err error) {
	m.info("w5500:init-start")
	start := time.Now()
	timeout := cfg.ResetTimeout
	if timeout <= 0 {
		timeout = defaultResetTimeout
	}
	err = m.reset(timeout)
	if err != nil {
		return err
	}
	err = m.verifyID()
	if err != nil {
		return err
	}
	err = m.setupDefault()
	if err != nil {
		return err
	}
	if cfg.HardwareAddr != [6]byte{} {
		err = m.write(wiz.BlockCommon, wiz.SHAR, cfg.HardwareAddr[:])
		if err != nil {
			return err
		}
	}
	var addr [6]byte
	err = m.read(wiz.BlockCommon, wiz.SHAR, addr[:])
	if err != nil {
		return err
	}
	m.info("w5500:init-done",
		slog.String("hwaddr", string(ethernet.AppendAddr(nil, addr))),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func (m *MAC) reset(timeout time.Duration) error {
	err := m.write8(wiz.BlockCommon, wiz.MR, wiz.MR_RST)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		mr, err := m.read8(wiz.BlockCommon, wiz.MR)
		if err != nil {
			return err
		}
		if mr&wiz.MR_RST == 0 {
			return nil
		} else if time.Since(deadline) > 0 {
			return errResetTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *MAC) verifyID() error {
	version, err := m.read8(wiz.BlockCommon, wiz.VERSIONR)
	if err != nil {
		return err
	}
	if version != wiz.VersionSupported {
		return fmt.Errorf("%w: expected %#02x, got %#02x", ErrUnsupportedChip, wiz.VersionSupported, version)
	}
	m.debug("w5500:version", slog.Uint64("versionr", uint64(version)))
	return nil
}

// setupDefault gives all buffer memory to socket 0 and enables its receive interrupt.
func (m *MAC) setupDefault() error {
	for sock := uint8(0); sock < wiz.MaxSockets; sock++ {
		var kb uint8
		if sock == 0 {
			kb = wiz.BufferMemory / 1024
		}
		blk := wiz.SocketRegister(sock)
		err := m.write8(blk, wiz.Sn_RXBUF_SIZE, kb)
		if err != nil {
			return err
		}
		err = m.write8(blk, wiz.Sn_TXBUF_SIZE, kb)
		if err != nil {
			return err
		}
	}
	err := m.write8(wiz.SocketRegister(0), wiz.Sn_IMR, wiz.Sn_IR_RECV)
	if err != nil {
		return err
	}
	return m.write8(wiz.BlockCommon, wiz.SIMR, 1<<0)
}

// Close closes socket 0 if open and releases the SPI transport.
func (m *MAC) Close() error {
	m.lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	var err error
	if m.started {
		err = m.command(wiz.Sn_CR_CLOSE)
		m.started = false
	}
	m.closed = true
	return errjoin(err, m.conn.Close())
}

func (m *MAC) lock()   { m.mu.Lock() }
func (m *MAC) unlock() { m.mu.Unlock() }

func errjoin(errs ...error) error { return errors.Join(errs...) }
