// Package spibus implements a SPI master that multiplexes register-protocol
// devices over a single [drivers.SPI] bus. Devices are registered with a
// [Host], framed with a configurable command (address) phase and address
// (control) phase and serviced with blocking polling transfers.
package spibus

import (
	"errors"
)

// OutputPin sets the level of a GPIO output. Chip select is active low.
type OutputPin func(level bool)

// Handle is a device registered on a bus.
type Handle interface {
	// PollingTransmit performs a single transaction and blocks until it is done.
	// It is safe to call concurrently; transactions never interleave on the wire.
	PollingTransmit(tx *Transaction) error
}

// Host registers devices on a bus. The returned Handle is exclusively owned by
// the caller until it is passed to RemoveDevice.
type Host interface {
	AddDevice(cfg DeviceConfig) (Handle, error)
	RemoveDevice(h Handle) error
}

// DeviceConfig describes a device attached to the bus.
type DeviceConfig struct {
	// ClockSpeedHz is the SPI clock used while this device is selected.
	ClockSpeedHz uint32
	// Mode is the SPI mode (CPOL<<1 | CPHA).
	Mode uint8
	// CS drives the device's chip select line. May be nil if the SPI peripheral
	// drives chip select in hardware.
	CS OutputPin
	// CommandBits is the width of the command phase sent first, MSB first. Multiple of 8, at most 16.
	CommandBits uint8
	// AddressBits is the width of the address phase following the command phase. Multiple of 8, at most 32.
	AddressBits uint8
}

func (cfg DeviceConfig) validate() error {
	if cfg.CommandBits%8 != 0 || cfg.CommandBits > 16 {
		return errBadCommandBits
	}
	if cfg.AddressBits%8 != 0 || cfg.AddressBits > 32 {
		return errBadAddressBits
	}
	return nil
}

// Flags modify how a Transaction's payload is sourced and stored.
type Flags uint8

const (
	// UseTxData sends TxData[:Length] instead of TxBuffer.
	UseTxData Flags = 1 << iota
	// UseRxData receives into RxData[:Length] instead of RxBuffer.
	UseRxData
)

// InlineSize is the largest payload that fits in the inline TxData and RxData arrays.
const InlineSize = 4

// Transaction is a single chip select window: command phase, address phase
// and a data phase of Length bytes.
type Transaction struct {
	Flags Flags
	// Cmd is sent during the command phase.
	Cmd uint16
	// Addr is sent during the address phase.
	Addr uint32
	// Length of the data phase in bytes.
	Length int
	// TxBuffer is the data sent during the data phase. nil for reads.
	TxBuffer []byte
	// RxBuffer receives data during the data phase. nil for writes.
	RxBuffer []byte
	TxData   [InlineSize]byte
	RxData   [InlineSize]byte
}

// data returns the write and read slices of the data phase.
func (tx *Transaction) data() (w, r []byte, err error) {
	if tx.Length <= 0 {
		return nil, nil, errZeroLength
	}
	inline := tx.Flags&(UseTxData|UseRxData) != 0
	if inline && tx.Length > InlineSize {
		return nil, nil, errInlineTooLong
	}
	if tx.Flags&UseTxData != 0 {
		w = tx.TxData[:tx.Length]
	} else if tx.TxBuffer != nil {
		if len(tx.TxBuffer) < tx.Length {
			return nil, nil, errShortBuffer
		}
		w = tx.TxBuffer[:tx.Length]
	}
	if tx.Flags&UseRxData != 0 {
		r = tx.RxData[:tx.Length]
	} else if tx.RxBuffer != nil {
		if len(tx.RxBuffer) < tx.Length {
			return nil, nil, errShortBuffer
		}
		r = tx.RxBuffer[:tx.Length]
	}
	if w == nil && r == nil {
		return nil, nil, errNoBuffer
	}
	return w, r, nil
}

var (
	errBadCommandBits = errors.New("spibus: command phase must be 0, 8 or 16 bits")
	errBadAddressBits = errors.New("spibus: address phase must be a multiple of 8 bits up to 32")
	errZeroLength     = errors.New("spibus: zero length transaction")
	errInlineTooLong  = errors.New("spibus: inline data longer than 4 bytes")
	errShortBuffer    = errors.New("spibus: buffer shorter than transaction length")
	errNoBuffer       = errors.New("spibus: transaction has no tx or rx buffer")
	errNoFreeSlot     = errors.New("spibus: no free device slot")
	errNotOnBus       = errors.New("spibus: handle does not belong to this bus")
	// ErrNotRegistered is returned when using or removing a device that was already removed.
	ErrNotRegistered = errors.New("spibus: device not registered")
)
