package w5500

import (
	"github.com/soypat/w5500patch/spibus"
	"github.com/soypat/w5500patch/wiz"
)

// StockDriver returns the built-in SPI transport used when Config.Driver is zero.
func StockDriver() SPIDriver {
	return SPIDriver{Init: stockInit}
}

type stockConn struct {
	host spibus.Host
	dev  spibus.Handle
}

func stockInit(cfg Config) (SPIConn, error) {
	if cfg.Host == nil {
		return nil, errNoHost
	}
	devcfg := cfg.Device
	devcfg.CommandBits = wiz.AddressPhaseBits
	devcfg.AddressBits = wiz.ControlPhaseBits
	dev, err := cfg.Host.AddDevice(devcfg)
	if err != nil {
		return nil, err
	}
	return &stockConn{host: cfg.Host, dev: dev}, nil
}

func (c *stockConn) Read(cmd, addr uint32, buf []byte) error {
	tx := spibus.Transaction{
		Cmd:      uint16(cmd),
		Addr:     addr,
		Length:   len(buf),
		RxBuffer: buf,
	}
	return c.dev.PollingTransmit(&tx)
}

func (c *stockConn) Write(cmd, addr uint32, buf []byte) error {
	tx := spibus.Transaction{
		Cmd:      uint16(cmd),
		Addr:     addr,
		Length:   len(buf),
		TxBuffer: buf,
	}
	return c.dev.PollingTransmit(&tx)
}

func (c *stockConn) Close() error {
	return c.host.RemoveDevice(c.dev)
}
