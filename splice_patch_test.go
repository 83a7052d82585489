//go:build !w5500nopatch

package w5500patch

import (
	"testing"

	"github.com/soypat/w5500patch/wiz"
)

func TestDefaultSplicerPatches(t *testing.T) {
	if _, ok := defaultSplicer().(Wrap); !ok {
		t.Fatalf("unexpected default splicer %T", defaultSplicer())
	}
	_, _, cfg := newChip(t, wiz.VersionRev82)
	mac, err := NewDefaultMAC(cfg)
	if err != nil {
		t.Fatal(err)
	}
	mac.Close()
}
