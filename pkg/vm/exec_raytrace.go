package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/raytrace"
	"github.com/akhildatla/warpsim/pkg/value"
)

// rayTracing executes the ray-tracing extension. Traversal state lives in a
// record in global memory owned by the raytrace.Service; the thread keeps a
// stack of the records of its outstanding trace_ray calls.
func (e *Engine) rayTracing(t *Thread, inst *isa.Instruction) error {
	switch inst.Op {
	case isa.OpLoadRayLaunchID:
		ctaid, ntid := t.Ctaid(), t.Ntid()
		return e.writeU32s(t, inst, t.Tid.X+ctaid.X*ntid.X, ctaid.Y, ctaid.Z)
	case isa.OpLoadRayLaunchSize:
		rt, err := e.rtService()
		if err != nil {
			return err
		}
		size := rt.LaunchSize()
		return e.writeU32s(t, inst, size[0], size[1], size[2])
	case isa.OpLoadRayInstanceCustomIndex, isa.OpLoadRayPrimitiveID:
		return e.hitIndex(t, inst)
	case isa.OpLoadRayWorldToObject, isa.OpLoadRayObjectToWorld:
		return e.hitMatrix(t, inst)
	case isa.OpLoadRayWorldDirection, isa.OpLoadRayWorldOrigin:
		addr, _, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		off := uint64(raytrace.OffOrigin)
		if inst.Op == isa.OpLoadRayWorldDirection {
			off = raytrace.OffDirection
		}
		return e.write(t, inst.Dst(), value.FromU64(addr+off), isa.B64)
	case isa.OpLoadRayTMax:
		_, rec, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		tmax := rec.Tmax
		if rec.HitGeometry {
			tmax = rec.Closest.T
		}
		return e.write(t, inst.Dst(), value.FromF32(tmax), isa.F32)
	case isa.OpLoadRayTMin:
		_, rec, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), value.FromF32(rec.Tmin), isa.F32)
	case isa.OpLoadVulkanDescriptor:
		return e.loadDescriptor(t, inst)
	case isa.OpIgnoreRayIntersection:
		return e.ignoreIntersection(t)
	case isa.OpReportRayIntersection:
		return e.reportIntersection(t, inst)
	case isa.OpTraceRay:
		return e.traceRay(t, inst)
	case isa.OpEndTraceRay:
		return e.endTraceRay(t)
	case isa.OpCallMissShader:
		return e.callShader(t, inst, raytrace.ShaderMiss)
	case isa.OpCallClosestHitShader:
		return e.callShader(t, inst, raytrace.ShaderClosestHit)
	case isa.OpCallIntersectionShader:
		return e.callShader(t, inst, raytrace.ShaderIntersection)
	case isa.OpCallAnyhitShader:
		return e.callShader(t, inst, raytrace.ShaderAnyHit)
	case isa.OpImageDerefStore:
		return e.imageStore(t, inst)
	case isa.OpImageDerefLoad:
		return e.imageLoad(t, inst)
	case isa.OpRtAllocMem:
		return e.rtAllocMem(t, inst)
	case isa.OpAnyhitExit:
		return e.shaderExit(t, inst, raytrace.ShaderAnyHit)
	case isa.OpIntersectionExit:
		return e.shaderExit(t, inst, raytrace.ShaderIntersection)
	case isa.OpRunIntersection:
		rt, err := e.rtService()
		if err != nil {
			return err
		}
		counter, err := e.counterOperand(t, inst)
		if err != nil {
			return err
		}
		_, ok := rt.Candidate(rtKey(t), raytrace.ShaderIntersection, counter)
		return e.write(t, inst.Dst(), value.FromCond(ok), isa.Pred)
	case isa.OpGetAnyhitShaderDataAddress:
		return e.shaderData(t, inst, raytrace.ShaderAnyHit)
	case isa.OpGetIntersectionShaderDataAddr:
		return e.shaderData(t, inst, raytrace.ShaderIntersection)
	case isa.OpHitGeometry:
		_, rec, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), value.FromCond(rec.HitGeometry), isa.Pred)
	case isa.OpGetHitgroup:
		_, rec, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), value.FromU64(uint64(uint32(rec.Closest.HitGroup))), isa.U32)
	case isa.OpGetClosestHitShaderID, isa.OpGetIntersectionShaderID, isa.OpGetAnyhitShaderID:
		return e.shaderID(t, inst)
	case isa.OpWrap32x4, isa.OpUnwrap32x4, isa.OpGetElement32, isa.OpSetElement32:
		return e.lanes32(t, inst)
	case isa.OpShaderClock:
		now := e.now()
		if err := e.write(t, inst.Operand(0), value.FromU64(now&0xFFFFFFFF), isa.U32); err != nil {
			return err
		}
		return e.write(t, inst.Operand(1), value.FromU64(now>>32), isa.U32)
	}
	return notImplemented(inst)
}

func (e *Engine) rtService() (raytrace.Service, error) {
	if e.rt == nil {
		return nil, fmt.Errorf("%w: ray tracing", ErrNoService)
	}
	return e.rt, nil
}

func rtKey(t *Thread) raytrace.Key {
	warp := -1
	if t.Warp != nil {
		warp = t.Warp.ID
	}
	return raytrace.Key{Thread: t.ID, Warp: warp, Lane: t.LaneID}
}

// rayRecord decodes the thread's innermost traversal record.
func (e *Engine) rayRecord(t *Thread) (uint64, raytrace.Record, error) {
	addr, ok := t.RayRecord()
	if !ok {
		return 0, raytrace.Record{}, fmt.Errorf("%w: no outstanding trace_ray", raytrace.ErrNoRecord)
	}
	rec, err := raytrace.ReadRecord(t.Bank.Global, addr)
	return addr, rec, err
}

func (e *Engine) writeU32s(t *Thread, inst *isa.Instruction, vs ...uint32) error {
	for i, v := range vs {
		if err := e.write(t, inst.Operand(i), value.FromU64(uint64(v)), isa.U32); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) u32Operand(t *Thread, inst *isa.Instruction, n int, deref bool) (uint32, error) {
	op := inst.Operand(n)
	v, err := e.read(t, op, inst.Dst(), isa.U32, deref)
	return v.U32(), err
}

// counterOperand reads the shader counter of the exit and table queries.
func (e *Engine) counterOperand(t *Thread, inst *isa.Instruction) (uint32, error) {
	return e.u32Operand(t, inst, 1, false)
}

// hitIndex reads the instance custom index or primitive id. Inside an
// intersection or any-hit shader it comes from the current candidate,
// elsewhere from the closest hit.
func (e *Engine) hitIndex(t *Thread, inst *isa.Instruction) error {
	_, rec, err := e.rayRecord(t)
	if err != nil {
		return err
	}
	pick := func(instance, primitive uint32) uint32 {
		if inst.Op == isa.OpLoadRayInstanceCustomIndex {
			return instance
		}
		return primitive
	}

	v := pick(rec.Closest.Instance, rec.Closest.Primitive)
	if rec.ShaderCounter != raytrace.NoShader {
		if rec.ShaderKind != raytrace.ShaderIntersection && rec.ShaderKind != raytrace.ShaderAnyHit {
			return fmt.Errorf("%w: %s", raytrace.ErrBadShaderKind, rec.ShaderKind)
		}
		rt, err := e.rtService()
		if err != nil {
			return err
		}
		c, ok := rt.Candidate(rtKey(t), rec.ShaderKind, uint32(rec.ShaderCounter))
		if !ok {
			return fmt.Errorf("%w: no %s candidate %d", raytrace.ErrUnknownShader, rec.ShaderKind, rec.ShaderCounter)
		}
		v = pick(c.Instance, c.Primitive)
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(v)), isa.U32)
}

func (e *Engine) hitMatrix(t *Thread, inst *isa.Instruction) error {
	_, rec, err := e.rayRecord(t)
	if err != nil {
		return err
	}
	idx, err := e.u32Operand(t, inst, 1, true)
	if err != nil {
		return err
	}
	m := rec.Closest.WorldToObject
	if inst.Op == isa.OpLoadRayObjectToWorld {
		m = rec.Closest.ObjectToWorld
	}
	if int(idx) >= len(m) {
		return fmt.Errorf("%w: matrix element %d", ErrUnsupportedOperand, idx)
	}
	return e.write(t, inst.Dst(), value.FromF32(m[idx]), isa.F32)
}

func (e *Engine) loadDescriptor(t *Thread, inst *isa.Instruction) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	set, err := e.u32Operand(t, inst, 1, true)
	if err != nil {
		return err
	}
	binding, err := e.u32Operand(t, inst, 2, true)
	if err != nil {
		return err
	}
	addr, err := rt.Descriptor(set, binding)
	if err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromU64(addr), isa.B64)
}

// ignoreIntersection invalidates the current any-hit candidate by giving it
// the ignored distance marker.
func (e *Engine) ignoreIntersection(t *Thread) error {
	_, rec, err := e.rayRecord(t)
	if err != nil {
		return err
	}
	if rec.ShaderCounter < 0 || uint32(rec.ShaderCounter) >= rec.NumAllHits {
		return fmt.Errorf("%w: shader counter %d outside %d hits", ErrUnsupportedOperand, rec.ShaderCounter, rec.NumAllHits)
	}
	addr := rec.AllHits + uint64(rec.ShaderCounter)*raytrace.HitSize + raytrace.HitOffT
	t.LastAccess = Access{Valid: true, Space: isa.SpaceGlobal, Addr: addr, Size: 4, Write: true}
	return raytrace.WriteF32(t.Bank.Global, addr, raytrace.IgnoredT)
}

// reportIntersection implements report_ray_intersection d, t, kind. An
// accepted hit replaces the closest hit with the current intersection
// candidate.
func (e *Engine) reportIntersection(t *Thread, inst *isa.Instruction) error {
	addr, rec, err := e.rayRecord(t)
	if err != nil {
		return err
	}
	tv, err := e.read(t, inst.Operand(1), inst.Dst(), isa.F32, true)
	if err != nil {
		return err
	}
	hitT := tv.F32()

	accepted := rec.Accepts(hitT)
	if accepted {
		if rec.ShaderCounter == raytrace.NoShader {
			return fmt.Errorf("%w: report_ray_intersection outside an intersection shader", ErrUnsupportedOperand)
		}
		rt, err := e.rtService()
		if err != nil {
			return err
		}
		c, ok := rt.Candidate(rtKey(t), raytrace.ShaderIntersection, uint32(rec.ShaderCounter))
		if !ok {
			return fmt.Errorf("%w: no intersection candidate %d", raytrace.ErrUnknownShader, rec.ShaderCounter)
		}
		rec.HitGeometry = true
		rec.Closest.Geometry = raytrace.GeometryAABBs
		rec.Closest.HitGroup = c.HitGroup
		rec.Closest.T = hitT
		rec.Closest.Primitive = c.Primitive
		rec.Closest.Instance = c.Instance
		if err := raytrace.WriteRecord(t.Bank.Global, addr, rec); err != nil {
			return err
		}
	}
	return e.write(t, inst.Dst(), value.FromCond(accepted), isa.Pred)
}

// traceRay implements
//
//	trace_ray as, flags, cull, sbt_offset, sbt_stride, miss, ox, oy, oz, tmin, dx, dy, dz, tmax
func (e *Engine) traceRay(t *Thread, inst *isa.Instruction) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	if inst.NumOperands() < 14 {
		return fmt.Errorf("%w: trace_ray takes 14 operands, got %d", ErrArityMismatch, inst.NumOperands())
	}
	as, err := e.read(t, inst.Operand(0), inst.Operand(0), isa.B64, true)
	if err != nil {
		return err
	}
	var u [5]uint32
	for i := range u {
		if u[i], err = e.u32Operand(t, inst, 1+i, true); err != nil {
			return err
		}
	}
	var f [8]float32
	for i := range f {
		op := inst.Operand(6 + i)
		v, err := e.read(t, op, op, isa.F32, true)
		if err != nil {
			return err
		}
		f[i] = v.F32()
	}
	ray := raytrace.Ray{
		AccelStruct: as.U64(),
		Flags:       u[0],
		CullMask:    u[1],
		SBTOffset:   u[2],
		SBTStride:   u[3],
		MissIndex:   u[4],
		Origin:      [3]float32{f[0], f[1], f[2]},
		Tmin:        f[3],
		Direction:   [3]float32{f[4], f[5], f[6]},
		Tmax:        f[7],
	}
	addr, err := rt.TraceRay(rtKey(t), ray)
	if err != nil {
		return err
	}
	t.rays = append(t.rays, addr)
	if e.cfg.DebugInstructions {
		e.log.WithFields(logrus.Fields{
			"thread": t.ID,
			"record": fmt.Sprintf("0x%x", addr),
			"tmin":   ray.Tmin,
			"tmax":   ray.Tmax,
		}).Debug("trace_ray")
	}
	return nil
}

func (e *Engine) endTraceRay(t *Thread) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	addr, ok := t.RayRecord()
	if !ok {
		return fmt.Errorf("%w: end_trace_ray without trace_ray", ErrStackUnderflow)
	}
	t.rays = t.rays[:len(t.rays)-1]
	return rt.EndTraceRay(rtKey(t), addr)
}

// callShader enters the shader the service selects for kind. Intersection
// and any-hit calls take the shader counter as operand 0 and record it,
// with the shader kind, in the traversal record first.
func (e *Engine) callShader(t *Thread, inst *isa.Instruction, kind raytrace.ShaderKind) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	addr, ok := t.RayRecord()
	if !ok {
		return fmt.Errorf("%w: %s shader outside trace_ray", raytrace.ErrNoRecord, kind)
	}
	var counter uint32
	if kind == raytrace.ShaderIntersection || kind == raytrace.ShaderAnyHit {
		if counter, err = e.u32Operand(t, inst, 0, true); err != nil {
			return err
		}
		if err := raytrace.WriteU32(t.Bank.Global, addr+raytrace.OffShaderCounter, counter); err != nil {
			return err
		}
		if err := raytrace.WriteU32(t.Bank.Global, addr+raytrace.OffShaderKind, uint32(kind)); err != nil {
			return err
		}
	}
	fn, err := rt.Shader(rtKey(t), kind, addr, counter)
	if err != nil || fn == nil {
		return err
	}
	rpc, err := e.checkDivergence(t)
	if err != nil {
		return err
	}
	e.enter(t, inst, fn, rpc, nil, nil)
	return nil
}

// shaderExit reports whether every lane of the warp is past its last
// candidate. When the any-hit loop finishes, the closest surviving any-hit
// candidate becomes the closest hit.
func (e *Engine) shaderExit(t *Thread, inst *isa.Instruction, table raytrace.ShaderKind) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	counter, err := e.counterOperand(t, inst)
	if err != nil {
		return err
	}
	exit := rt.ExitShaders(rtKey(t), table, counter)
	if exit {
		if err := e.finishShaders(t, table); err != nil {
			return err
		}
	}
	return e.write(t, inst.Dst(), value.FromCond(exit), isa.Pred)
}

func (e *Engine) finishShaders(t *Thread, table raytrace.ShaderKind) error {
	addr, rec, err := e.rayRecord(t)
	if err != nil {
		return err
	}
	rec.ShaderCounter = raytrace.NoShader
	if table == raytrace.ShaderAnyHit && rec.NumAllHits != 0 {
		var closest raytrace.Hit
		found := false
		for i := uint32(0); i < rec.NumAllHits; i++ {
			h, err := raytrace.ReadHit(t.Bank.Global, rec.AllHits+uint64(i)*raytrace.HitSize)
			if err != nil {
				return err
			}
			if !h.Ignored() && (!found || h.T < closest.T) {
				closest, found = h, true
			}
		}
		rec.HitGeometry = found
		if found {
			rec.Closest = closest
			if err := e.rt.SetHitAttribute(rtKey(t), closest.Barycentric); err != nil {
				return err
			}
		}
	}
	return raytrace.WriteRecord(t.Bank.Global, addr, rec)
}

func (e *Engine) shaderData(t *Thread, inst *isa.Instruction, table raytrace.ShaderKind) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	counter, err := e.counterOperand(t, inst)
	if err != nil {
		return err
	}
	c, ok := rt.Candidate(rtKey(t), table, counter)
	if !ok {
		return fmt.Errorf("%w: no %s candidate %d", raytrace.ErrUnknownShader, table, counter)
	}
	return e.write(t, inst.Dst(), value.FromU64(c.ShaderData), isa.B64)
}

// shaderID resolves the shader binding table entry of the closest hit or
// of the intersection or any-hit candidate at operand 1. Triangle hits use
// hit group 0.
func (e *Engine) shaderID(t *Thread, inst *isa.Instruction) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	var kind raytrace.ShaderKind
	var group int32
	switch inst.Op {
	case isa.OpGetClosestHitShaderID:
		_, rec, err := e.rayRecord(t)
		if err != nil {
			return err
		}
		kind = raytrace.ShaderClosestHit
		if rec.Closest.Geometry == raytrace.GeometryAABBs {
			group = rec.Closest.HitGroup
		}
	default:
		kind = raytrace.ShaderIntersection
		if inst.Op == isa.OpGetAnyhitShaderID {
			kind = raytrace.ShaderAnyHit
		}
		counter, err := e.u32Operand(t, inst, 1, true)
		if err != nil {
			return err
		}
		c, ok := rt.Candidate(rtKey(t), kind, counter)
		if !ok {
			return fmt.Errorf("%w: no %s candidate %d", raytrace.ErrUnknownShader, kind, counter)
		}
		group = c.HitGroup
	}
	id, err := rt.ShaderID(kind, group)
	if err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(id)), isa.U32)
}

// rtAllocMem implements rt_alloc_mem d, size, mode. The variable is named
// after the destination register.
func (e *Engine) rtAllocMem(t *Thread, inst *isa.Instruction) error {
	rt, err := e.rtService()
	if err != nil {
		return err
	}
	dst := inst.Dst()
	if dst.Sym == nil {
		return fmt.Errorf("%w: rt_alloc_mem needs a named destination", ErrUnsupportedOperand)
	}
	size, err := e.u32Operand(t, inst, 1, false)
	if err != nil {
		return err
	}
	mode, err := e.u32Operand(t, inst, 2, false)
	if err != nil {
		return err
	}
	addr, err := rt.AllocMem(rtKey(t), dst.Sym.Name, size, mode)
	if err != nil {
		return err
	}
	return e.write(t, dst, value.FromU64(addr), isa.B64)
}

// lanes32 packs and unpacks the four 32-bit lanes of a 128-bit register.
//
//	wrap_32_4      d, a, b, c, d
//	unwrap_32_4    a, b, c, d, s
//	get_element_32 d, s, i
//	set_element_32 d, v, i
func (e *Engine) lanes32(t *Thread, inst *isa.Instruction) error {
	switch inst.Op {
	case isa.OpWrap32x4:
		var l [4]uint32
		for i := range l {
			var err error
			if l[i], err = e.u32Operand(t, inst, 1+i, true); err != nil {
				return err
			}
		}
		t.SetReg(inst.Dst().Sym, value.FromLanes(l[0], l[1], l[2], l[3]))
		return nil
	case isa.OpUnwrap32x4:
		v, err := e.reg(t, inst.Operand(4).Sym)
		if err != nil {
			return err
		}
		for i := 0; i < 4; i++ {
			if err := e.write(t, inst.Operand(i), value.FromU64(uint64(v.Lane(i))), isa.U32); err != nil {
				return err
			}
		}
		return nil
	}

	idx, err := e.u32Operand(t, inst, 2, true)
	if err != nil {
		return err
	}
	if idx > 3 {
		return fmt.Errorf("%w: lane %d of a 128-bit register", ErrUnsupportedOperand, idx)
	}
	if inst.Op == isa.OpGetElement32 {
		v, err := e.reg(t, inst.Operand(1).Sym)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), value.FromU64(uint64(v.Lane(int(idx)))), isa.U32)
	}
	lane, err := e.u32Operand(t, inst, 1, true)
	if err != nil {
		return err
	}
	dst := inst.Dst().Sym
	old, _ := t.Reg(dst)
	t.SetReg(dst, old.WithLane(int(idx), lane))
	return nil
}
