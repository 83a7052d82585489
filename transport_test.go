package w5500patch

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/soypat/w5500patch/spibus"
	"github.com/soypat/w5500patch/wiz"
)

var errBus = errors.New("bus failure")

// fakeHost answers reads with a fixed response and records every transaction.
type fakeHost struct {
	added   []spibus.DeviceConfig
	removed int
	addErr  error
	// removeErr fails the next RemoveDevice.
	removeErr error
	dev       *fakeHandle
	response  []byte
	txErr     error
}

type fakeHandle struct {
	host *fakeHost
	txs  []spibus.Transaction
}

func (h *fakeHost) AddDevice(cfg spibus.DeviceConfig) (spibus.Handle, error) {
	if h.addErr != nil {
		return nil, h.addErr
	}
	h.added = append(h.added, cfg)
	h.dev = &fakeHandle{host: h}
	return h.dev, nil
}

func (h *fakeHost) RemoveDevice(dev spibus.Handle) error {
	if err := h.removeErr; err != nil {
		h.removeErr = nil
		return err
	}
	if dev != h.dev || h.dev == nil {
		return spibus.ErrNotRegistered
	}
	h.removed++
	h.dev = nil
	return nil
}

func (h *fakeHost) registered() int { return len(h.added) - h.removed }

func (d *fakeHandle) PollingTransmit(tx *spibus.Transaction) error {
	d.txs = append(d.txs, *tx)
	if d.host.txErr != nil {
		return d.host.txErr
	}
	if tx.Flags&spibus.UseRxData != 0 {
		copy(tx.RxData[:tx.Length], d.host.response)
	} else if tx.RxBuffer != nil {
		copy(tx.RxBuffer[:tx.Length], d.host.response)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func mustOpen(t *testing.T, host *fakeHost) *Transport {
	t.Helper()
	tp, err := Open(host, spibus.DeviceConfig{ClockSpeedHz: 20e6}, Config{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return tp
}

var versionCtl = uint32(wiz.Control(wiz.BlockCommon, false))

func TestTransportPatchesVersion(t *testing.T) {
	host := &fakeHost{response: []byte{wiz.VersionRev82}}
	tp := mustOpen(t, host)
	buf := []byte{0}
	err := tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != wiz.VersionSupported {
		t.Fatalf("VERSIONR: got %#x, want %#x", buf[0], wiz.VersionSupported)
	}
	if !tp.Patched() {
		t.Fatal("expected patched flag")
	}
	// Chip keeps reporting 0x82: every read is rewritten.
	buf[0] = 0
	err = tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil || buf[0] != wiz.VersionSupported || !tp.Patched() {
		t.Fatalf("second read: err=%v buf=%#x patched=%v", err, buf[0], tp.Patched())
	}
	// Latch: later reads of supported values keep the flag.
	host.response = []byte{wiz.VersionSupported}
	err = tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil || buf[0] != wiz.VersionSupported || !tp.Patched() {
		t.Fatalf("third read: err=%v buf=%#x patched=%v", err, buf[0], tp.Patched())
	}
}

func TestTransportNoFalsePositives(t *testing.T) {
	host := &fakeHost{response: []byte{wiz.VersionSupported}}
	tp := mustOpen(t, host)
	buf := []byte{0}
	err := tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != wiz.VersionSupported || tp.Patched() {
		t.Fatalf("supported chip modified: buf=%#x patched=%v", buf[0], tp.Patched())
	}
	// 0x82 read from other registers is untouched.
	host.response = []byte{wiz.VersionRev82}
	err = tp.Read(wiz.PHYCFGR, versionCtl, buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != wiz.VersionRev82 || tp.Patched() {
		t.Fatalf("other register patched: buf=%#x", buf[0])
	}
}

func TestTransportNoOverPatch(t *testing.T) {
	host := &fakeHost{response: []byte{wiz.VersionRev82, wiz.VersionRev82}}
	tp := mustOpen(t, host)
	buf := []byte{0, 0}
	err := tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x82, 0x82}) || tp.Patched() {
		t.Fatalf("multi-byte read modified: %x", buf)
	}
}

func TestTransportFailureShortCircuit(t *testing.T) {
	host := &fakeHost{response: []byte{wiz.VersionRev82}, txErr: errBus}
	tp := mustOpen(t, host)
	buf := []byte{0xaa}
	err := tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != errBus {
		t.Fatalf("want bus error returned verbatim, got %v", err)
	}
	if buf[0] != 0xaa || tp.Patched() {
		t.Fatalf("buffer touched on failed read: %#x", buf[0])
	}
	err = tp.Write(wiz.MR, uint32(wiz.Control(wiz.BlockCommon, true)), []byte{wiz.MR_RST})
	if err != errBus {
		t.Fatalf("want bus error on write, got %v", err)
	}
}

func TestTransportTransparency(t *testing.T) {
	payload := []byte("0123456789abcdef")
	host := &fakeHost{response: payload}
	tp := mustOpen(t, host)
	for _, n := range []int{1, 2, 4, 5, 16} {
		buf := make([]byte, n)
		err := tp.Read(wiz.SHAR, versionCtl, buf)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf, payload[:n]) {
			t.Fatalf("len %d: got %q", n, buf)
		}
		last := host.dev.txs[len(host.dev.txs)-1]
		inline := last.Flags&spibus.UseRxData != 0
		if inline != (n <= spibus.InlineSize) {
			t.Fatalf("len %d: inline=%v", n, inline)
		}
		if last.Cmd != wiz.SHAR || last.Addr != versionCtl || last.Length != n {
			t.Fatalf("len %d: bad transaction %+v", n, last)
		}
	}
	wctl := uint32(wiz.Control(wiz.BlockCommon, true))
	for _, n := range []int{3, 6} {
		err := tp.Write(wiz.SHAR, wctl, payload[:n])
		if err != nil {
			t.Fatal(err)
		}
		last := host.dev.txs[len(host.dev.txs)-1]
		var sent []byte
		if last.Flags&spibus.UseTxData != 0 {
			sent = last.TxData[:last.Length]
		} else {
			sent = last.TxBuffer[:last.Length]
		}
		if !bytes.Equal(sent, payload[:n]) {
			t.Fatalf("write len %d: sent %q", n, sent)
		}
	}
	if tp.Read(wiz.SHAR, versionCtl, nil) == nil {
		t.Fatal("expected error on zero length read")
	}
}

func TestTransportLifecycle(t *testing.T) {
	host := &fakeHost{}
	tp := mustOpen(t, host)
	if host.registered() != 1 {
		t.Fatalf("registered=%d after open", host.registered())
	}
	got := host.added[0]
	if got.CommandBits != wiz.AddressPhaseBits || got.AddressBits != wiz.ControlPhaseBits {
		t.Fatalf("framing not defaulted: %+v", got)
	}
	err := tp.Close()
	if err != nil {
		t.Fatal(err)
	}
	if host.registered() != 0 || host.removed != 1 {
		t.Fatalf("registered=%d removed=%d after close", host.registered(), host.removed)
	}
	if err = tp.Close(); err != ErrClosed {
		t.Fatalf("double close: %v", err)
	}
	if host.removed != 1 {
		t.Fatal("device removed twice")
	}
	if err = tp.Read(wiz.VERSIONR, versionCtl, []byte{0}); err != ErrClosed {
		t.Fatalf("read after close: %v", err)
	}
	var nilTransport *Transport
	if err = nilTransport.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestTransportOpenFailure(t *testing.T) {
	host := &fakeHost{addErr: errBus}
	tp, err := Open(host, spibus.DeviceConfig{}, Config{})
	if !errors.Is(err, errBus) || tp != nil {
		t.Fatalf("want wrapped bus error, got %v", err)
	}
	if host.registered() != 0 {
		t.Fatal("device left registered")
	}
	_, err = Open(nil, spibus.DeviceConfig{}, Config{})
	if err != errNilHost {
		t.Fatalf("nil host: %v", err)
	}
}

func TestTransportKeepsExplicitFraming(t *testing.T) {
	host := &fakeHost{}
	_, err := Open(host, spibus.DeviceConfig{CommandBits: 8, AddressBits: 16}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got := host.added[0]; got.CommandBits != 8 || got.AddressBits != 16 {
		t.Fatalf("framing overridden: %+v", got)
	}
}

func TestTransportCustomRule(t *testing.T) {
	host := &fakeHost{response: []byte{0x51}}
	rule := Rule{Register: wiz.VERSIONR, Unsupported: 0x51, Supported: 0x04}
	tp, err := Open(host, spibus.DeviceConfig{}, Config{Rule: rule})
	if err != nil {
		t.Fatal(err)
	}
	if tp.Rule() != rule {
		t.Fatalf("rule not kept: %+v", tp.Rule())
	}
	buf := []byte{0}
	err = tp.Read(wiz.VERSIONR, versionCtl, buf)
	if err != nil || buf[0] != 0x04 {
		t.Fatalf("custom rule not applied: err=%v buf=%#x", err, buf[0])
	}
}

func TestTransportCloseRetry(t *testing.T) {
	host := &fakeHost{}
	tp := mustOpen(t, host)
	host.removeErr = errBus
	err := tp.Close()
	if err != errBus {
		t.Fatalf("want bus error, got %v", err)
	}
	if host.registered() != 1 {
		t.Fatal("device not registered after failed close")
	}
	// Transport is still usable and Close can be retried.
	if err = tp.Write(wiz.MR, 0, []byte{0}); err != nil {
		t.Fatalf("write after failed close: %v", err)
	}
	if err = tp.Close(); err != nil {
		t.Fatalf("retry close: %v", err)
	}
	if host.registered() != 0 {
		t.Fatal("device left registered")
	}
	if err = tp.Close(); err != ErrClosed {
		t.Fatalf("close after success: %v", err)
	}
}

func TestTransportConcurrentReads(t *testing.T) {
	const (
		workers = 8
		reads   = 100
	)
	_, bus, cfg := newChip(t, wiz.VersionRev82)
	tp, err := Open(bus, cfg.Device, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Close()
	var wg sync.WaitGroup
	fails := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf [1]byte
			for j := 0; j < reads; j++ {
				err := tp.Read(wiz.VERSIONR, versionCtl, buf[:])
				if err != nil {
					fails <- err.Error()
					return
				} else if buf[0] != wiz.VersionSupported {
					fails <- "VERSIONR not rewritten"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(fails)
	for msg := range fails {
		t.Fatal(msg)
	}
	if !tp.Patched() {
		t.Fatal("patched flag not latched")
	}
}
