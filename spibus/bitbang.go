package spibus

import "errors"

var errTxMismatch = errors.New("spibus: bitbang buffer length mismatch")

// InputPin reads the level of a GPIO input.
type InputPin func() (level bool)

// Bitbang is a bit-bang SPI master hardcoded to mode 0, MSB first.
// It implements [drivers.SPI] so it can back a [Bus] on boards where no SPI
// peripheral is routed to the chip.
type Bitbang struct {
	SCK OutputPin
	SDO OutputPin
	SDI InputPin
	// Delay waits a quarter of the clock period. May be nil.
	Delay func()
}

// Tx sends w and receives into r. If both are non-nil they must be the same length.
func (s *Bitbang) Tx(w, r []byte) error {
	switch {
	case w != nil && r != nil:
		if len(w) != len(r) {
			return errTxMismatch
		}
		for i, b := range w {
			r[i] = s.transfer(b)
		}
	case w != nil:
		for _, b := range w {
			s.transfer(b)
		}
	case r != nil:
		for i := range r {
			r[i] = s.transfer(0)
		}
	}
	return nil
}

// Transfer sends and receives a single byte.
func (s *Bitbang) Transfer(b byte) (byte, error) {
	return s.transfer(b), nil
}

func (s *Bitbang) transfer(b byte) (out byte) {
	for bit := 7; bit >= 0; bit-- {
		if s.bitTransfer(b&(1<<bit) != 0) {
			out |= 1 << bit
		}
	}
	return out
}

// bitTransfer sets SDO while SCK is low and samples SDI on the rising edge.
func (s *Bitbang) bitTransfer(b bool) bool {
	s.SDO(b)
	s.delay()
	s.SCK(true)
	s.delay()
	in := s.SDI()
	s.delay()
	s.SCK(false)
	s.delay()
	return in
}

func (s *Bitbang) delay() {
	if s.Delay != nil {
		s.Delay()
	}
}
