package w5500patch

import (
	"testing"

	"github.com/soypat/w5500patch/wiz"
)

func TestRuleDecide(t *testing.T) {
	r := DefaultRule()
	ctl := uint32(wiz.Control(wiz.BlockCommon, false))
	tests := []struct {
		cmd, addr uint32
		buf       []byte
		want      Decision
	}{
		{cmd: wiz.VERSIONR, addr: ctl, buf: []byte{0x82}, want: DecisionPatch},
		{cmd: wiz.VERSIONR, addr: ctl, buf: []byte{0x04}, want: DecisionSupported},
		{cmd: wiz.VERSIONR, addr: ctl, buf: []byte{0x51}, want: DecisionUnknownValue},
		{cmd: wiz.VERSIONR, addr: ctl, buf: []byte{0x82, 0x00}, want: DecisionLength},
		{cmd: wiz.VERSIONR, addr: ctl, buf: nil, want: DecisionLength},
		{cmd: wiz.PHYCFGR, addr: ctl, buf: []byte{0x82}, want: DecisionOtherRegister},
		// Upper bits of cmd are ignored.
		{cmd: 0xabcd0000 | wiz.VERSIONR, addr: ctl, buf: []byte{0x82}, want: DecisionPatch},
		// Offset in addr is not looked at with the default field.
		{cmd: 0, addr: wiz.VERSIONR, buf: []byte{0x82}, want: DecisionOtherRegister},
	}
	for i, test := range tests {
		got := r.Decide(test.cmd, test.addr, test.buf)
		if got != test.want {
			t.Errorf("%d: Decide(%#x, %#x, %x) = %s, want %s", i, test.cmd, test.addr, test.buf, got, test.want)
		}
	}
}

func TestRuleControlPhaseField(t *testing.T) {
	r := DefaultRule()
	r.Field = FieldControlPhase
	if got := r.Address(0x1234, 0xffff0039); got != wiz.VERSIONR {
		t.Fatalf("Address = %#x, want %#x", got, wiz.VERSIONR)
	}
	buf := []byte{0x82}
	if !r.Apply(0, wiz.VERSIONR, buf) || buf[0] != 0x04 {
		t.Fatalf("expected patch with control phase field, got %#x", buf[0])
	}
	buf[0] = 0x82
	if r.Apply(wiz.VERSIONR, 0, buf) || buf[0] != 0x82 {
		t.Fatal("cmd must be ignored with control phase field")
	}
}

func TestRuleApplyOnlyPatches(t *testing.T) {
	r := DefaultRule()
	for v := 0; v < 256; v++ {
		buf := []byte{byte(v)}
		patched := r.Apply(wiz.VERSIONR, 0, buf)
		switch {
		case v == 0x82 && (!patched || buf[0] != 0x04):
			t.Fatalf("0x82 not rewritten: got %#x patched=%v", buf[0], patched)
		case v != 0x82 && (patched || buf[0] != byte(v)):
			t.Fatalf("%#x modified to %#x patched=%v", v, buf[0], patched)
		}
	}
	// Applying twice yields the supported value and reports no second patch.
	buf := []byte{0x82}
	r.Apply(wiz.VERSIONR, 0, buf)
	if r.Apply(wiz.VERSIONR, 0, buf) || buf[0] != 0x04 {
		t.Fatal("second Apply must be a no-op")
	}
}

func TestDecisionString(t *testing.T) {
	if s := DecisionPatch.String(); s != "patch" {
		t.Errorf("got %q", s)
	}
	if s := Decision(200).String(); s != "invalid" {
		t.Errorf("got %q", s)
	}
}
