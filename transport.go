// Package w5500patch implements a W5500 SPI transport that passes every
// register transaction through unchanged except single byte VERSIONR reads
// returning 0x82, which are rewritten to 0x04 so drivers accept the chip.
//
// The transport is spliced under an unmodified [w5500.MAC] through its
// SPIDriver hook. See [NewMAC], [Wrap] and [Weak] for the available ways of
// doing so.
package w5500patch

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/soypat/w5500patch/spibus"
	"github.com/soypat/w5500patch/w5500"
	"github.com/soypat/w5500patch/wiz"
)

var (
	// ErrClosed is returned when using a Transport after Close.
	ErrClosed = errors.New("w5500patch: transport closed")

	errNilHost    = errors.New("w5500patch: nil SPI host")
	errAddDevice  = errors.New("w5500patch: failed to add SPI device")
	errZeroLength = errors.New("w5500patch: zero length transaction")
)

// Config configures a Transport.
type Config struct {
	// Rule decides which reads are rewritten. The zero value selects DefaultRule.
	Rule Rule
	// Opened, if set, is called with every Transport opened through Driver.
	Opened func(*Transport)
	Logger *slog.Logger
}

// Transport is a W5500 SPI transport that applies a Rule to every successful read.
// It owns its bus device from Open until Close.
type Transport struct {
	host    spibus.Host
	dev     spibus.Handle
	rule    Rule
	logger  *slog.Logger
	patched atomic.Bool
	closed  atomic.Bool
	// closemu serializes Close so the device is removed at most once.
	closemu sync.Mutex
}

var _ w5500.SPIConn = (*Transport)(nil)

// Open registers the chip on host. Unset framing (zero command and address
// bits) is filled in with the W5500 16 bit address phase and 8 bit control phase.
// On failure nothing is left registered on host.
func Open(host spibus.Host, devcfg spibus.DeviceConfig, cfg Config) (*Transport, error) {
	if host == nil {
		logattrs(cfg.Logger, slog.LevelError, "w5500patch:open", slog.String("err", errNilHost.Error()))
		return nil, errNilHost
	}
	if devcfg.CommandBits == 0 && devcfg.AddressBits == 0 {
		devcfg.CommandBits = wiz.AddressPhaseBits
		devcfg.AddressBits = wiz.ControlPhaseBits
	}
	rule := cfg.Rule
	if rule == (Rule{}) {
		rule = DefaultRule()
	}
	dev, err := host.AddDevice(devcfg)
	if err != nil {
		logattrs(cfg.Logger, slog.LevelError, "w5500patch:add-device", slog.String("err", err.Error()))
		return nil, errjoin(errAddDevice, err)
	}
	t := &Transport{
		host:   host,
		dev:    dev,
		rule:   rule,
		logger: cfg.Logger,
	}
	t.info("w5500patch:open",
		slog.Uint64("hz", uint64(devcfg.ClockSpeedHz)),
		slog.Int("cmdbits", int(devcfg.CommandBits)),
		slog.Int("addrbits", int(devcfg.AddressBits)),
	)
	return t, nil
}

// Close unregisters the bus device. Calling Close on a nil Transport is a no-op.
// If the host fails to remove the device the Transport stays open and Close may be retried.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	t.closemu.Lock()
	defer t.closemu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	err := t.host.RemoveDevice(t.dev)
	if err != nil {
		t.warn("w5500patch:close", slog.String("err", err.Error()))
		return err
	}
	t.closed.Store(true)
	if t.Patched() {
		t.info("w5500patch:close VERSIONR was patched",
			slog.Uint64("from", uint64(t.rule.Unsupported)),
			slog.Uint64("to", uint64(t.rule.Supported)),
		)
	}
	return nil
}

// Patched reports whether any read has been rewritten during the Transport's lifetime.
// Once true it stays true.
func (t *Transport) Patched() bool { return t.patched.Load() }

// Rule returns the rule applied to reads.
func (t *Transport) Rule() Rule { return t.rule }

// Read performs a single read transaction of len(buf) bytes. Payloads of up to
// 4 bytes are received inline and copied into buf. The bus error is returned
// as is, in which case buf is not inspected.
func (t *Transport) Read(cmd, addr uint32, buf []byte) error {
	if t.closed.Load() {
		return ErrClosed
	} else if len(buf) == 0 {
		return errZeroLength
	}
	tx := spibus.Transaction{
		Cmd:    uint16(cmd),
		Addr:   addr,
		Length: len(buf),
	}
	inline := len(buf) <= spibus.InlineSize
	if inline {
		tx.Flags = spibus.UseRxData
	} else {
		tx.RxBuffer = buf
	}
	err := t.dev.PollingTransmit(&tx)
	if err != nil {
		return err
	}
	if inline {
		copy(buf, tx.RxData[:len(buf)])
	}
	if t.rule.Apply(cmd, addr, buf) {
		t.patched.Store(true)
		t.warn("w5500patch:patching VERSIONR",
			slog.Uint64("from", uint64(t.rule.Unsupported)),
			slog.Uint64("to", uint64(t.rule.Supported)),
		)
	}
	return nil
}

// Write performs a single write transaction of len(buf) bytes. Data is never inspected.
func (t *Transport) Write(cmd, addr uint32, buf []byte) error {
	if t.closed.Load() {
		return ErrClosed
	} else if len(buf) == 0 {
		return errZeroLength
	}
	tx := spibus.Transaction{
		Cmd:    uint16(cmd),
		Addr:   addr,
		Length: len(buf),
	}
	if len(buf) <= spibus.InlineSize {
		tx.Flags = spibus.UseTxData
		copy(tx.TxData[:], buf)
	} else {
		tx.TxBuffer = buf
	}
	return t.dev.PollingTransmit(&tx)
}

// Driver returns a w5500.SPIDriver that opens a Transport on the MAC's host and device config.
// If cfg.Logger is nil the MAC's logger is used.
func Driver(cfg Config) w5500.SPIDriver {
	return w5500.SPIDriver{
		Init: func(maccfg w5500.Config) (w5500.SPIConn, error) {
			tcfg := cfg
			if tcfg.Logger == nil {
				tcfg.Logger = maccfg.Logger
			}
			t, err := Open(maccfg.Host, maccfg.Device, tcfg)
			if err != nil {
				return nil, err
			}
			if cfg.Opened != nil {
				cfg.Opened(t)
			}
			return t, nil
		},
	}
}

func errjoin(errs ...error) error { return errors.Join(errs...) }
