//go:build riscv64

package cpu

import "testing"

func TestReadSatpMockedUsesOverride(t *testing.T) {
	origFn := readSatpFn
	defer func() { readSatpFn = origFn }()

	readSatpFn = func() uint64 { return 0x8000000000aabbcc }

	if got := ReadSatpMocked(); got != 0x8000000000aabbcc {
		t.Fatalf("expected mocked satp value; got 0x%x", got)
	}
}
