//go:build !w5500nopatch

package w5500patch

func defaultSplicer() Splicer { return Wrap{} }
