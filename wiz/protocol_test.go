package wiz

import (
	"bytes"
	"testing"
)

func TestControl(t *testing.T) {
	ctl := Control(BlockCommon, false)
	if ctl != 0 {
		t.Errorf("common read control want 0, got %#x", ctl)
	}
	ctl = Control(SocketRegister(0), true)
	if ctl != 0b00001_1_00 {
		t.Errorf("socket 0 register write want %#b, got %#b", 0b00001_1_00, ctl)
	}
	ctl = Control(SocketRx(7), false)
	b, write, om := ParseControl(ctl)
	if b != SocketRx(7) || write || om != OMVariable {
		t.Error("parse mismatch", b, write, om)
	}
	if b.Socket() != 7 {
		t.Error("bad socket", b.Socket())
	}
}

func TestBlockString(t *testing.T) {
	if s := BlockCommon.String(); s != "common" {
		t.Error(s)
	}
	if s := SocketTx(3).String(); s != "sock3-tx" {
		t.Error(s)
	}
	if s := Block(4).String(); s != "reserved" {
		t.Error(s)
	}
}

func TestHeader(t *testing.T) {
	h := Header{Offset: VERSIONR, Control: Control(BlockCommon, false)}
	frame := AppendHeader(nil, h)
	if !bytes.Equal(frame, []byte{0x00, 0x39, 0x00}) {
		t.Fatalf("bad header encoding %x", frame)
	}
	var buf [HeaderLen]byte
	h.Put(buf[:])
	if !bytes.Equal(buf[:], frame) {
		t.Errorf("Put and AppendHeader disagree: %x vs %x", buf, frame)
	}
	frame = append(frame, VersionRev82)
	got, data, err := DecodeHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("want %v, got %v", h, got)
	}
	if len(data) != 1 || data[0] != VersionRev82 {
		t.Errorf("bad data %x", data)
	}
	if got.IsWrite() || !got.Block().IsCommon() {
		t.Error("expected common block read")
	}
	_, _, err = DecodeHeader(frame[:2])
	if err == nil {
		t.Error("expected error on short frame")
	}
}
