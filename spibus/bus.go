package spibus

import (
	"log/slog"
	"sync"

	"golang.org/x/exp/constraints"
	"tinygo.org/x/drivers"
)

// MaxDevices is the number of chip select slots on a Bus.
const MaxDevices = 3

// BusConfig configures a Bus.
type BusConfig struct {
	// Reconfigure is called with a device's clock speed and mode before the
	// first transaction of that device following a transaction to another
	// device. May be nil if all devices share the bus settings.
	Reconfigure func(clockSpeedHz uint32, mode uint8) error
	Logger      *slog.Logger
}

// Bus is a [Host] that drives devices over one [drivers.SPI].
type Bus struct {
	mu      sync.Mutex // guards devices.
	txmu    sync.Mutex // held for the whole chip select window.
	spi     drivers.SPI
	devices [MaxDevices]*Device
	// last device that was configured on the wire, guarded by txmu.
	current     *Device
	reconfigure func(uint32, uint8) error
	logger      *slog.Logger
}

var _ Host = (*Bus)(nil)

// Device is a device registered on a Bus. It implements [Handle].
type Device struct {
	bus  *Bus
	slot int
	cfg  DeviceConfig
}

// NewBus returns a Bus that performs transfers over spi.
func NewBus(spi drivers.SPI, cfg BusConfig) *Bus {
	return &Bus{
		spi:         spi,
		reconfigure: cfg.Reconfigure,
		logger:      cfg.Logger,
	}
}

// AddDevice registers a device on the first free chip select slot.
func (b *Bus) AddDevice(cfg DeviceConfig) (Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.devices {
		if b.devices[i] != nil {
			continue
		}
		dev := &Device{bus: b, slot: i, cfg: cfg}
		if cfg.CS != nil {
			cfg.CS(true) // Deselect.
		}
		b.devices[i] = dev
		b.debug("spibus:add-device",
			slog.Int("slot", i),
			slog.Uint64("hz", uint64(cfg.ClockSpeedHz)),
			slog.Int("cmdbits", int(cfg.CommandBits)),
			slog.Int("addrbits", int(cfg.AddressBits)),
		)
		return dev, nil
	}
	return nil, errNoFreeSlot
}

// RemoveDevice unregisters a device previously returned by AddDevice.
func (b *Bus) RemoveDevice(h Handle) error {
	dev, ok := h.(*Device)
	if !ok || dev == nil || dev.bus != b {
		return errNotOnBus
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.devices[dev.slot] != dev {
		return ErrNotRegistered
	}
	b.devices[dev.slot] = nil
	b.debug("spibus:remove-device", slog.Int("slot", dev.slot))
	return nil
}

// Devices returns the number of registered devices.
func (b *Bus) Devices() (n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dev := range b.devices {
		if dev != nil {
			n++
		}
	}
	return n
}

func (b *Bus) registered(d *Device) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[d.slot] == d
}

// PollingTransmit sends the command and address phases followed by the data
// phase with chip select held low for the whole transaction.
func (d *Device) PollingTransmit(tx *Transaction) error {
	b := d.bus
	w, r, err := tx.data()
	if err != nil {
		return err
	}
	b.txmu.Lock()
	defer b.txmu.Unlock()
	// Checked under txmu so a device removed while waiting never drives the wire.
	if !b.registered(d) {
		return ErrNotRegistered
	}
	if b.current != d && b.reconfigure != nil {
		err = b.reconfigure(d.cfg.ClockSpeedHz, d.cfg.Mode)
		if err != nil {
			return err
		}
	}
	b.current = d

	var hdr [2 + 4]byte
	n := putPhase(hdr[:], tx.Cmd, d.cfg.CommandBits)
	n += putPhase(hdr[n:], tx.Addr, d.cfg.AddressBits)
	d.csEnable(true)
	if n > 0 {
		err = b.spi.Tx(hdr[:n], nil)
	}
	if err == nil {
		err = b.spi.Tx(w, r)
	}
	d.csEnable(false)
	if b.traceEnabled() {
		b.trace("spibus:tx",
			slog.Int("slot", d.slot),
			slog.Uint64("cmd", uint64(tx.Cmd)),
			slog.Uint64("addr", uint64(tx.Addr)),
			slog.Int("len", tx.Length),
			slog.Bool("write", w != nil),
			slog.Any("err", err),
		)
	}
	return err
}

// Config returns the configuration the device was registered with.
func (d *Device) Config() DeviceConfig { return d.cfg }

func (d *Device) csEnable(b bool) {
	if d.cfg.CS != nil {
		d.cfg.CS(!b)
	}
}

// putPhase writes the lowest bits/8 bytes of v to dst MSB first and returns the amount written.
func putPhase[T constraints.Unsigned](dst []byte, v T, bits uint8) int {
	n := int(bits / 8)
	for i := 0; i < n; i++ {
		dst[i] = byte(v >> (8 * (n - 1 - i)))
	}
	return n
}
