package fabric

import "testing"

func TestFabricIndex(t *testing.T) {
	tests := []struct {
		idx   FabricIndex
		valid bool
		str   string
	}{
		{FabricIndexInvalid, false, "FabricIndex(invalid)"},
		{FabricIndexMin, true, "FabricIndex(1)"},
		{FabricIndexMax, true, "FabricIndex(254)"},
		{255, false, "FabricIndex(255)"},
	}
	for _, tc := range tests {
		if got := tc.idx.IsValid(); got != tc.valid {
			t.Errorf("%d.IsValid() = %v, want %v", tc.idx, got, tc.valid)
		}
		if got := tc.idx.String(); got != tc.str {
			t.Errorf("String() = %q, want %q", got, tc.str)
		}
	}
}

func TestNodeID(t *testing.T) {
	if NodeIDUnspecified.IsOperational() {
		t.Error("unspecified node id reported operational")
	}
	if !NodeID(0x1234).IsOperational() {
		t.Error("0x1234 should be operational")
	}
	if NodeID(0xFFFF_FFFF_FFFF_FFFF).IsOperational() {
		t.Error("reserved node id reported operational")
	}
	if got := NodeID(0xAB).String(); got != "NodeID(0x00000000000000AB)" {
		t.Errorf("String() = %q", got)
	}
}
