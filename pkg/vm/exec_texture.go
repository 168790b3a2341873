package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/convert"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/texture"
	"github.com/akhildatla/warpsim/pkg/value"
)

func (e *Engine) sampler() (texture.Sampler, error) {
	if e.tex == nil {
		return nil, fmt.Errorf("%w: texture sampler", ErrNoService)
	}
	return e.tex, nil
}

// descriptor evaluates a texture or image handle operand.
func (e *Engine) descriptor(t *Thread, op *isa.Operand) (uint64, error) {
	v, err := e.read(t, op, op, isa.U64, true)
	return v.U64(), err
}

// writeTexel writes the four channels of v to dsts at type typ. Integer
// destinations receive the channel truncated toward zero.
func (e *Engine) writeTexel(t *Thread, dsts []*isa.Operand, v texture.Texel, typ isa.Type) error {
	for i, dst := range dsts {
		c := value.FromF32(v[i])
		if typ != isa.F32 {
			var err error
			if c, err = convert.Convert(c, isa.F32, typ, isa.RoundNone, false); err != nil {
				return err
			}
		}
		if err := e.write(t, dst, c, typ); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) texAccess(t *Thread, desc uint64, write bool) {
	t.LastAccess = Access{Valid: true, Space: isa.SpaceTex, Addr: desc, Size: 16, Write: write}
}

// texFetch implements tex.geom.v4.dtype.ctype d, [tex, c]. Float
// coordinates are normalised and sampled, integer coordinates address a
// texel directly.
func (e *Engine) texFetch(t *Thread, inst *isa.Instruction) error {
	s, err := e.sampler()
	if err != nil {
		return err
	}
	dst := inst.Dst()
	if !dst.IsVector() || len(dst.Vec) != 4 {
		return fmt.Errorf("%w: tex destination must be a 4-vector", ErrUnsupportedOperand)
	}
	desc, err := e.descriptor(t, inst.Src(1))
	if err != nil {
		return err
	}

	ctype := inst.SrcType
	if ctype == isa.TypeNone {
		ctype = isa.F32
	}
	coords := inst.Src(2)
	var c [2]value.Reg
	n := min(max(inst.Geometry, 1), 2)
	for i := 0; i < n; i++ {
		if coords.IsVector() {
			if i >= len(coords.Vec) {
				break
			}
			if c[i], err = e.reg(t, coords.VecSym(i)); err != nil {
				return err
			}
		} else if i == 0 {
			if c[0], err = e.read(t, coords, dst, ctype, true); err != nil {
				return err
			}
		}
	}

	var texel texture.Texel
	switch ctype {
	case isa.F32:
		texel, err = s.Sample(desc, c[0].F32(), c[1].F32(), 0)
	case isa.S32, isa.U32:
		texel, err = s.Load(desc, c[0].U32(), c[1].U32())
	default:
		return unsupported(inst, ctype)
	}
	if err != nil {
		return err
	}
	e.texAccess(t, desc, false)

	dsts := make([]*isa.Operand, 4)
	for i := range dsts {
		op := isa.Reg(dst.VecSym(i))
		dsts[i] = &op
	}
	typ := inst.Type
	if typ == isa.TypeNone {
		typ = isa.F32
	}
	return e.writeTexel(t, dsts, texel, typ)
}

// txl samples at an explicit level of detail:
//
//	txl desc, sampler, d0, d1, d2, d3, x, y, lod
func (e *Engine) txl(t *Thread, inst *isa.Instruction) error {
	s, err := e.sampler()
	if err != nil {
		return err
	}
	desc, err := e.descriptor(t, inst.Operand(0))
	if err != nil {
		return err
	}
	var f [3]float32
	for i := range f {
		op := inst.Operand(6 + i)
		v, err := e.read(t, op, op, isa.F32, true)
		if err != nil {
			return err
		}
		f[i] = v.F32()
	}
	texel, err := s.Sample(desc, f[0], f[1], f[2])
	if err != nil {
		return err
	}
	e.texAccess(t, desc, false)
	return e.writeTexel(t, []*isa.Operand{inst.Operand(2), inst.Operand(3), inst.Operand(4), inst.Operand(5)}, texel, isa.F32)
}

// imageLoad reads a texel at integer coordinates:
//
//	image_deref_load desc, d0, d1, d2, d3, x, y
func (e *Engine) imageLoad(t *Thread, inst *isa.Instruction) error {
	s, err := e.sampler()
	if err != nil {
		return err
	}
	desc, err := e.descriptor(t, inst.Operand(0))
	if err != nil {
		return err
	}
	var xy [2]uint32
	for i := range xy {
		op := inst.Operand(5 + i)
		v, err := e.read(t, op, op, isa.U32, true)
		if err != nil {
			return err
		}
		xy[i] = v.U32()
	}
	texel, err := s.Load(desc, xy[0], xy[1])
	if err != nil {
		return err
	}
	e.texAccess(t, desc, false)
	return e.writeTexel(t, []*isa.Operand{inst.Operand(1), inst.Operand(2), inst.Operand(3), inst.Operand(4)}, texel, isa.F32)
}

// imageStore writes a texel at integer coordinates. Operand 5 is the
// sample index and is ignored.
//
//	image_deref_store image, x, y, z, w, sample, r, g, b, a
func (e *Engine) imageStore(t *Thread, inst *isa.Instruction) error {
	s, err := e.sampler()
	if err != nil {
		return err
	}
	desc, err := e.descriptor(t, inst.Operand(0))
	if err != nil {
		return err
	}
	var xy [2]uint32
	for i := range xy {
		op := inst.Operand(1 + i)
		v, err := e.read(t, op, op, isa.U32, true)
		if err != nil {
			return err
		}
		xy[i] = v.U32()
	}
	var texel texture.Texel
	for i := range texel {
		op := inst.Operand(6 + i)
		v, err := e.read(t, op, op, isa.F32, true)
		if err != nil {
			return err
		}
		texel[i] = v.F32()
	}
	if err := s.Store(desc, xy[0], xy[1], texel); err != nil {
		return err
	}
	e.texAccess(t, desc, true)
	return nil
}
