package replay

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const acceptLen = 0xffff

// udpPortProgram matches Ethernet UDP frames addressed to port. IPv4
// fragments past the first carry no UDP header and are rejected. Frames the
// program cannot see into (802.1Q tags, IPv6 extension headers, other
// EtherTypes) are accepted and left to the decoder's own port check.
func udpPortProgram(port int) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86dd, SkipTrue: 8},
		bpf.RetConstant{Val: acceptLen},

		// IPv4
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 10},
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 8},
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: 4, SkipFalse: 5},

		// IPv6, fixed header only
		bpf.LoadAbsolute{Off: 20, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 2},
		bpf.LoadAbsolute{Off: 56, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},

		bpf.RetConstant{Val: acceptLen},
		bpf.RetConstant{Val: 0},
	}
}

// newPortVM compiles the destination-port filter.
func newPortVM(port int) (*bpf.VM, error) {
	vm, err := bpf.NewVM(udpPortProgram(port))
	if err != nil {
		return nil, fmt.Errorf("failed to compile port filter: %w", err)
	}
	return vm, nil
}
