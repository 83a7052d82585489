package w5500patch

import "github.com/soypat/w5500patch/wiz"

// AddressField selects which transaction argument carries the register offset.
type AddressField uint8

const (
	// FieldAddressPhase takes the offset from the cmd argument. This is where
	// the W5500 16 bit address phase travels when the bus device is configured
	// with 16 command bits and 8 address bits.
	FieldAddressPhase AddressField = iota
	// FieldControlPhase takes the offset from the addr argument, for
	// integrations that send the register offset in the address phase of the bus.
	FieldControlPhase
)

// Decision is the outcome of evaluating a Rule against a read.
type Decision uint8

const (
	// DecisionLength: not a single byte read.
	DecisionLength Decision = iota
	// DecisionOtherRegister: single byte read of a register other than the rule's.
	DecisionOtherRegister
	// DecisionSupported: the register already holds the supported signature.
	DecisionSupported
	// DecisionPatch: the register holds the unsupported signature and is rewritten.
	DecisionPatch
	// DecisionUnknownValue: the register holds neither signature and is left alone.
	DecisionUnknownValue
)

func (d Decision) String() (s string) {
	switch d {
	case DecisionLength:
		s = "length"
	case DecisionOtherRegister:
		s = "other-register"
	case DecisionSupported:
		s = "supported"
	case DecisionPatch:
		s = "patch"
	case DecisionUnknownValue:
		s = "unknown-value"
	default:
		s = "invalid"
	}
	return s
}

// Rule rewrites a single byte register read from Unsupported to Supported.
// The zero value matches nothing useful, use [DefaultRule].
type Rule struct {
	Register    uint16
	Unsupported byte
	Supported   byte
	Field       AddressField
}

// DefaultRule rewrites VERSIONR reads of 0x82 to 0x04.
func DefaultRule() Rule {
	return Rule{
		Register:    wiz.VERSIONR,
		Unsupported: wiz.VersionRev82,
		Supported:   wiz.VersionSupported,
		Field:       FieldAddressPhase,
	}
}

// Address returns the effective register offset of a transaction.
func (r Rule) Address(cmd, addr uint32) uint16 {
	if r.Field == FieldControlPhase {
		return uint16(addr & 0xffff)
	}
	return uint16(cmd & 0xffff)
}

// Decide evaluates the rule against the data returned by a successful read. It does not modify buf.
func (r Rule) Decide(cmd, addr uint32, buf []byte) Decision {
	switch {
	case len(buf) != 1:
		return DecisionLength
	case r.Address(cmd, addr) != r.Register:
		return DecisionOtherRegister
	case buf[0] == r.Supported:
		return DecisionSupported
	case buf[0] == r.Unsupported:
		return DecisionPatch
	}
	return DecisionUnknownValue
}

// Apply rewrites buf in place when Decide returns DecisionPatch and reports whether it did.
func (r Rule) Apply(cmd, addr uint32, buf []byte) (patched bool) {
	if r.Decide(cmd, addr, buf) != DecisionPatch {
		return false
	}
	buf[0] = r.Supported
	return true
}
