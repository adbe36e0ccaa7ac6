package discovery

import (
	"net"
	"testing"

	"github.com/backkem/msglayer/pkg/fabric"
)

func TestInstanceName(t *testing.T) {
	name := InstanceName(0x87E1B004E235A130, fabric.NodeID(0x8FC7772401CD0696))
	if want := "87E1B004E235A130-8FC7772401CD0696"; name != want {
		t.Fatalf("InstanceName() = %s, want %s", name, want)
	}

	cfid, nid, err := ParseInstanceName(name)
	if err != nil {
		t.Fatalf("ParseInstanceName() error = %v", err)
	}
	if cfid != 0x87E1B004E235A130 || nid != 0x8FC7772401CD0696 {
		t.Errorf("ParseInstanceName() = %X, %X", cfid, uint64(nid))
	}

	for _, bad := range []string{"", "87E1B004E235A130", "87E1B004E235A130_8FC7772401CD0696", "87E1B004E235A13G-8FC7772401CD0696"} {
		if _, _, err := ParseInstanceName(bad); err != ErrInvalidInstanceName {
			t.Errorf("ParseInstanceName(%q) error = %v, want %v", bad, err, ErrInvalidInstanceName)
		}
	}
}

func TestSortIPsByPreference(t *testing.T) {
	in := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("fe80::1"),
		net.ParseIP("::1"),
		net.ParseIP("fd00::1"),
		net.ParseIP("2001:db8::1"),
	}
	want := []string{"2001:db8::1", "fd00::1", "fe80::1", "192.168.1.10", "::1"}

	got := SortIPsByPreference(in)
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("SortIPsByPreference()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if in[0].String() != "192.168.1.10" {
		t.Error("SortIPsByPreference() modified its input")
	}
}
