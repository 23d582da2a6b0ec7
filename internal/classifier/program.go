// Package classifier realizes the "external collaborator Matcher" from
// spec §4.4/§6.4: programs are compiled once and applied to raw frames
// on the hot path. Matching itself is delegated to a tiny cBPF virtual
// machine (golang.org/x/net/bpf), the same family of library
// firestige-Otus wires for its capture filters — the hot path never
// parses a filter string, only runs pre-assembled instructions.
//
// This package does not implement a general pfmatch-style filter
// language: compile(program_text, substitutions) dispatches on one of
// a small fixed vocabulary of named programs (hygiene, block-sensitive,
// inside/outside direction tests), each hand-assembled into bpf.Instruction
// sequences. A fuller expression parser is out of scope.
//
// © 2025 dplane authors. MIT License.
package classifier

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// Matcher is the compiled form of a classification program: a single
// boolean test over a raw Ethernet frame.
type Matcher interface {
	Match(data []byte) bool
}

type vmMatcher struct {
	vm *bpf.VM
}

func (m *vmMatcher) Match(data []byte) bool {
	n, err := m.vm.Run(data)
	return err == nil && n > 0
}

const matchValue = 0xFFFF

// branch names where control flow goes when a test's outcome is
// terminal (i.e. not "fall through to the next step").
type branch int

const (
	contNext branch = iota
	toAccept
	toReject
)

// step is either a plain instruction sequence with no test (pre, used
// for things like loading the IHL into the X register) or a
// comparison that branches to accept/reject/next-step.
type step struct {
	pre        []bpf.Instruction
	hasTest    bool
	cond       bpf.JumpTest
	val        uint32
	onTrue     branch
	onFalse    branch
}

func rawStep(insn bpf.Instruction) step {
	return step{pre: []bpf.Instruction{insn}}
}

func testStep(pre []bpf.Instruction, cond bpf.JumpTest, val uint32, onTrue, onFalse branch) step {
	return step{pre: pre, hasTest: true, cond: cond, val: val, onTrue: onTrue, onFalse: onFalse}
}

// build assembles steps into a full bpf.Instruction program. The
// layout is always: [steps...] [ret reject @ R] [ret matchValue @ R+1].
// A step's "contNext" branch is a SkipTrue/SkipFalse of 0 (fall through
// to the very next instruction, which is either the next step or, for
// the final step, the reject return). Terminal branches (toAccept,
// toReject) are patched to their absolute targets once R is known.
func build(steps []step) ([]bpf.Instruction, error) {
	var insns []bpf.Instruction

	type fixup struct {
		idx    int
		isTrue bool
		target branch
	}
	var fixups []fixup

	for _, st := range steps {
		insns = append(insns, st.pre...)
		if !st.hasTest {
			continue
		}
		idx := len(insns)
		insns = append(insns, bpf.JumpIf{Cond: st.cond, Val: st.val})
		if st.onTrue != contNext {
			fixups = append(fixups, fixup{idx, true, st.onTrue})
		}
		if st.onFalse != contNext {
			fixups = append(fixups, fixup{idx, false, st.onFalse})
		}
	}

	rejectIdx := len(insns)
	insns = append(insns, bpf.RetConstant{Val: 0})
	acceptIdx := len(insns)
	insns = append(insns, bpf.RetConstant{Val: matchValue})

	for _, fx := range fixups {
		target := rejectIdx
		if fx.target == toAccept {
			target = acceptIdx
		}
		skip := target - fx.idx - 1
		if skip < 0 || skip > 0xFF {
			return nil, fmt.Errorf("classifier: jump distance %d out of range", skip)
		}
		ji := insns[fx.idx].(bpf.JumpIf)
		if fx.isTrue {
			ji.SkipTrue = uint8(skip)
		} else {
			ji.SkipFalse = uint8(skip)
		}
		insns[fx.idx] = ji
	}

	return insns, nil
}

func compileMatcher(steps []step) (Matcher, error) {
	insns, err := build(steps)
	if err != nil {
		return nil, err
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("classifier: assemble program: %w", err)
	}
	return &vmMatcher{vm: vm}, nil
}
