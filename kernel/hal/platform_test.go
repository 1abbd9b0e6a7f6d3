package hal

import "testing"

func TestHHDMConversionRoundTrip(t *testing.T) {
	SetHHDMBase(0xffff800000000000)
	defer SetHHDMBase(0)

	pa := uintptr(0x80200000)
	va := PhysToVirt(pa)
	if va != pa+0xffff800000000000 {
		t.Fatalf("unexpected virtual address: 0x%x", va)
	}
	if back := VirtToPhys(va); back != pa {
		t.Fatalf("round trip failed: got 0x%x, want 0x%x", back, pa)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	if err := (&PlatformInfo{}).Validate(); err == nil {
		t.Fatal("expected validation error for empty platform info")
	}

	p := &PlatformInfo{DeviceTreeBlob: 0x1000}
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error for missing memory map")
	}

	p = &PlatformInfo{
		DeviceTreeBlob: 0x1000,
		MemMap:         []MemMapEntry{{Base: 0, Length: 0x1000, Type: MemUsable}},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid platform info to pass validation, got %v", err)
	}
}

func TestHHDMInitialized(t *testing.T) {
	SetHHDMBase(0)
	if HHDMInitialized() {
		t.Fatal("expected HHDMInitialized to be false before SetHHDMBase")
	}
	SetHHDMBase(0x1000)
	defer SetHHDMBase(0)
	if !HHDMInitialized() {
		t.Fatal("expected HHDMInitialized to be true after SetHHDMBase")
	}
}
