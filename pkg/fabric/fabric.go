// Package fabric defines the identity types that name a peer to the
// messaging layer. Their meaning is assigned by whoever establishes sessions;
// the messaging layer only compares them.
package fabric

import "fmt"

// FabricIndex is an 8-bit local index identifying a security domain.
// Valid values are 1-254. The value 0 is invalid/unassigned.
type FabricIndex uint8

// FabricIndex constants.
const (
	FabricIndexMin     FabricIndex = 1
	FabricIndexMax     FabricIndex = 254
	FabricIndexInvalid FabricIndex = 0
)

// IsValid returns true if the fabric index is in the valid range [1, 254].
func (f FabricIndex) IsValid() bool {
	return f >= FabricIndexMin && f <= FabricIndexMax
}

// String returns a string representation of the fabric index.
func (f FabricIndex) String() string {
	if f == FabricIndexInvalid {
		return "FabricIndex(invalid)"
	}
	return fmt.Sprintf("FabricIndex(%d)", f)
}

// NodeID is a 64-bit node identifier.
type NodeID uint64

// NodeID range constants for operational nodes.
const (
	NodeIDUnspecified    NodeID = 0
	NodeIDMinOperational NodeID = 0x0000_0000_0000_0001
	NodeIDMaxOperational NodeID = 0xFFFF_FFFE_FFFF_FFFD
)

// IsOperational returns true if the node ID is a valid operational node ID.
func (n NodeID) IsOperational() bool {
	return n >= NodeIDMinOperational && n <= NodeIDMaxOperational
}

// String returns a string representation of the node ID.
func (n NodeID) String() string {
	return fmt.Sprintf("NodeID(0x%016X)", uint64(n))
}

// GroupID identifies a multicast group. Group messages carry it in the
// destination node field.
type GroupID uint16

// String returns a string representation of the group ID.
func (g GroupID) String() string {
	return fmt.Sprintf("GroupID(0x%04X)", uint16(g))
}
