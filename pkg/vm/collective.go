package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Collective instructions accumulate one contribution per participating
// lane and publish the result to every contributor once the last expected
// lane has arrived. State is keyed by the instruction instance so arrival
// order never matters.

type collKey struct {
	warp int
	pc   int
}

type barKey struct {
	cta int
	id  uint32
}

type voteState struct {
	arrived int
	and     bool
	or      bool
	ballot  uint32
	voters  []*Thread
}

type shflLane struct {
	t     *Thread
	src   value.Reg
	b, c  uint32
	valid bool // false for a lane skipped by its guard
}

type shflState struct {
	arrived int
	lanes   map[int]shflLane
}

type barState struct {
	expected int
	arrived  []*Thread
	and      bool
	or       bool
	popc     uint32
}

// participants returns the number of lanes expected at a warp collective.
func participants(t *Thread) int {
	if t.Warp == nil {
		return 1
	}
	return max(t.Warp.Active.Count(), 1)
}

func warpKey(t *Thread, inst *isa.Instruction) collKey {
	k := collKey{warp: -1, pc: inst.PC}
	if t.Warp != nil {
		k.warp = t.Warp.ID
	}
	return k
}

// skip registers a lane whose guard is false as an arrival at a warp
// collective, contributing nothing.
func (e *Engine) skip(t *Thread, inst *isa.Instruction) error {
	switch inst.Op {
	case isa.OpVote:
		return e.arriveVote(t, inst, false, false)
	case isa.OpShfl:
		return e.arriveShfl(t, inst, shflLane{t: t})
	}
	return nil
}

func (e *Engine) vote(t *Thread, inst *isa.Instruction) error {
	src := inst.Src(1)
	p, err := e.read(t, src, inst.Dst(), isa.Pred, false)
	if err != nil {
		return err
	}
	return e.arriveVote(t, inst, p.True() != (inst.NegPred || src.Neg), true)
}

func (e *Engine) arriveVote(t *Thread, inst *isa.Instruction, pred, voted bool) error {
	k := warpKey(t, inst)

	e.mu.Lock()
	s, ok := e.votes[k]
	if !ok {
		s = &voteState{and: true}
		e.votes[k] = s
	}
	s.arrived++
	if voted {
		s.voters = append(s.voters, t)
		s.and = s.and && pred
		s.or = s.or || pred
		if pred {
			s.ballot |= 1 << (uint(t.LaneID) % 32)
		}
	}
	done := s.arrived >= participants(t)
	if done {
		delete(e.votes, k)
	}
	e.mu.Unlock()

	if !done {
		return nil
	}
	var (
		v   value.Reg
		typ = isa.Pred
	)
	switch inst.Vote {
	case isa.VoteBallot:
		v, typ = value.FromU64(uint64(s.ballot)), inst.Type
	case isa.VoteAny:
		v = value.FromCond(s.or)
	case isa.VoteAll:
		v = value.FromCond(s.and)
	case isa.VoteUni:
		v = value.FromCond(s.and || !s.or)
	default:
		return fmt.Errorf("%w: vote mode %s", ErrUnsupportedOperand, inst.Vote)
	}
	for _, voter := range s.voters {
		if err := e.write(voter, inst.Dst(), v, typ); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) shfl(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	src, err := e.read(t, inst.Src(1), inst.Dst(), typ, true)
	if err != nil {
		return err
	}
	b, err := e.read(t, inst.Src(2), inst.Dst(), isa.U32, true)
	if err != nil {
		return err
	}
	c, err := e.read(t, inst.Src(3), inst.Dst(), isa.U32, true)
	if err != nil {
		return err
	}
	return e.arriveShfl(t, inst, shflLane{t: t, src: src, b: b.U32(), c: c.U32(), valid: true})
}

func (e *Engine) arriveShfl(t *Thread, inst *isa.Instruction, l shflLane) error {
	k := warpKey(t, inst)

	e.mu.Lock()
	s, ok := e.shfls[k]
	if !ok {
		s = &shflState{lanes: make(map[int]shflLane)}
		e.shfls[k] = s
	}
	s.arrived++
	s.lanes[t.LaneID] = l
	done := s.arrived >= participants(t)
	if done {
		delete(e.shfls, k)
	}
	e.mu.Unlock()

	if !done {
		return nil
	}
	for lane, l := range s.lanes {
		if !l.valid {
			continue
		}
		srcLane, inRange := shflSource(inst.Shfl, lane, l.b, l.c)
		var v value.Reg
		if from, ok := s.lanes[srcLane]; ok && from.valid {
			v = from.src
		} else {
			e.log.WithField("lane", srcLane).Warn("shfl source lane inactive, value unpredictable")
		}
		if err := e.writeShfl(l.t, inst, v, inRange); err != nil {
			return err
		}
	}
	return nil
}

// shflSource computes the lane lane reads from. c carries the clamp value
// in bits 0..4 and the segment mask in bits 8..12. Out-of-range sources
// read the requesting lane itself.
func shflSource(mode isa.ShflMode, lane int, b, c uint32) (int, bool) {
	mask := int(c >> 8 & 0x1F)
	clamp := int(c & 0x1F)
	bval := int(b & 0x1F)
	maxLane := lane&mask | clamp&^mask
	minLane := lane & mask

	var src int
	var ok bool
	switch mode {
	case isa.ShflUp:
		src = lane - bval
		ok = src >= maxLane
	case isa.ShflDown:
		src = lane + bval
		ok = src <= maxLane
	case isa.ShflBfly:
		src = lane ^ bval
		ok = src <= maxLane
	default:
		src = minLane | bval&^mask
		ok = src <= maxLane
	}
	if !ok {
		src = lane
	}
	return src, ok
}

// writeShfl writes the shuffled value and, for a d|p destination, the
// source validity predicate.
func (e *Engine) writeShfl(t *Thread, inst *isa.Instruction, v value.Reg, inRange bool) error {
	dst := inst.Dst()
	if dst.Double == isa.DoubleNone {
		return e.write(t, dst, v, inst.Type)
	}
	t.SetReg(dst.VecSym(0), v)
	t.SetReg(dst.VecSym(1), value.FromCond(inRange))
	return nil
}

// activemask writes the lanes of the warp executing this instruction.
func (e *Engine) activemask(t *Thread, inst *isa.Instruction) error {
	m := uint32(1) << (uint(t.LaneID) % 32)
	if t.Warp != nil && t.Warp.Active.Count() > 0 {
		m = t.Warp.Active.Uint32()
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(m)), isa.U32)
}

// bar records a barrier wait for the scheduler. bar.red additionally
// reduces a predicate over the CTA and publishes the result to every
// participant when the last one arrives.
func (e *Engine) bar(t *Thread, inst *isa.Instruction) error {
	u32 := func(n int) (uint32, error) {
		v, err := e.read(t, inst.Operand(n), inst.Operand(n), isa.U32, true)
		return v.U32(), err
	}

	switch inst.Bar {
	case isa.BarSync, isa.BarArrive:
		id, err := u32(0)
		if err != nil {
			return err
		}
		w := &BarrierWait{ID: id, Arrive: inst.Bar == isa.BarArrive}
		if inst.NumOperands() > 1 {
			if w.Count, err = u32(1); err != nil {
				return err
			}
		}
		t.Barrier = w
		return nil
	case isa.BarRed:
		return e.barRed(t, inst, u32)
	}
	return fmt.Errorf("%w: bar.%s", ErrUnsupportedOperand, inst.Bar)
}

// barRed handles bar.red.op d, id, [count,] p.
func (e *Engine) barRed(t *Thread, inst *isa.Instruction, u32 func(int) (uint32, error)) error {
	id, err := u32(1)
	if err != nil {
		return err
	}
	var count uint32
	predOp := inst.Operand(2)
	if inst.NumOperands() > 3 {
		if count, err = u32(2); err != nil {
			return err
		}
		predOp = inst.Operand(3)
	}
	p, err := e.read(t, predOp, predOp, isa.Pred, false)
	if err != nil {
		return err
	}
	pred := p.True() != predOp.Neg
	t.Barrier = &BarrierWait{ID: id, Count: count}

	expected := int(count)
	if expected == 0 {
		expected = t.Ntid().Size()
	}
	k := barKey{cta: -1, id: id}
	if t.CTA != nil {
		k.cta = t.CTA.ID
	}

	e.mu.Lock()
	s, ok := e.bars[k]
	if !ok {
		s = &barState{expected: expected, and: true}
		e.bars[k] = s
	}
	s.arrived = append(s.arrived, t)
	s.and = s.and && pred
	s.or = s.or || pred
	if pred {
		s.popc++
	}
	done := len(s.arrived) >= s.expected
	if done {
		delete(e.bars, k)
	}
	e.mu.Unlock()

	if !done {
		return nil
	}
	var (
		v   value.Reg
		typ = isa.Pred
	)
	switch inst.Red {
	case isa.RedPopc:
		v, typ = value.FromU64(uint64(s.popc)), isa.U32
	case isa.RedAnd:
		v = value.FromCond(s.and)
	case isa.RedOr:
		v = value.FromCond(s.or)
	default:
		return fmt.Errorf("%w: bar.red.%s", ErrUnsupportedOperand, inst.Red)
	}
	for _, p := range s.arrived {
		if err := e.write(p, inst.Dst(), v, typ); err != nil {
			return err
		}
	}
	return nil
}
