package raytrace

import (
	"fmt"
	"sort"
	"sync"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
)

// ModeHitAttrib is the rt_alloc_mem variable mode of the hit attribute.
// Variables of this mode may be redeclared with a different size.
const ModeHitAttrib uint32 = 1 << 10

const hitAttribName = "hit_attrib"

// Primitive is one scene primitive of the Static service. Its hit distance
// is fixed and independent of the ray.
type Primitive struct {
	Geometry    GeometryType
	T           float32
	HitGroup    int32
	Primitive   uint32
	Instance    uint32
	Barycentric [3]float32
	ShaderData  uint64
}

// HitGroup binds the shaders of one shader binding table entry.
type HitGroup struct {
	ClosestHit     *isa.Function
	AnyHit         *isa.Function
	Intersection   *isa.Function
	ClosestHitID   uint32
	AnyHitID       uint32
	IntersectionID uint32
}

// Static is a table-driven Service. Every ray sees the whole scene:
//   - opaque triangles (hit group without an any-hit shader) compete for
//     the closest hit directly;
//   - triangles with an any-hit shader become any-hit candidates;
//   - AABBs become intersection candidates for the intersection shader.
//
// Records and variables are bump-allocated in Global from Base.
type Static struct {
	Global    memory.Store
	Base      uint64
	Limit     uint64 // 0 for no limit
	Launch    [3]uint32
	Scene     []Primitive
	Miss      []*isa.Function
	HitGroups []HitGroup
	Bindings  map[[2]uint32]uint64

	mu      sync.Mutex
	next    uint64
	missIdx map[uint64]uint32
	tables  map[tableKey]map[int][]Candidate
	vars    map[int]map[string]variable
}

type tableKey struct {
	warp int
	kind ShaderKind
}

type variable struct {
	addr uint64
	size uint32
	mode uint32
}

var _ Service = (*Static)(nil)

// NewStatic returns a service allocating from base in global.
func NewStatic(global memory.Store, base uint64) *Static {
	return &Static{Global: global, Base: base, Launch: [3]uint32{1, 1, 1}}
}

func (s *Static) init() {
	if s.missIdx == nil {
		s.missIdx = make(map[uint64]uint32)
		s.tables = make(map[tableKey]map[int][]Candidate)
		s.vars = make(map[int]map[string]variable)
		s.next = s.Base
	}
}

// alloc reserves size bytes, 16-byte aligned. Callers hold s.mu.
func (s *Static) alloc(size uint64) (uint64, error) {
	s.init()
	addr := (s.next + 15) &^ 15
	if s.Limit != 0 && addr+size > s.Limit {
		return 0, fmt.Errorf("%w: %d bytes at 0x%x", ErrOutOfRTMemory, size, addr)
	}
	s.next = addr + size
	return addr, nil
}

// LaunchSize implements Service.
func (s *Static) LaunchSize() [3]uint32 { return s.Launch }

func (s *Static) group(hg int32) (HitGroup, bool) {
	if hg < 0 || int(hg) >= len(s.HitGroups) {
		return HitGroup{}, false
	}
	return s.HitGroups[hg], true
}

// TraceRay implements Service.
func (s *Static) TraceRay(k Key, r Ray) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Origin:        r.Origin,
		Tmin:          r.Tmin,
		Direction:     r.Direction,
		Tmax:          r.Tmax,
		ShaderCounter: NoShader,
	}
	var anyHits []Hit
	var isect, anyCands []Candidate
	for _, p := range s.Scene {
		g, _ := s.group(p.HitGroup)
		hit := Hit{
			Geometry:    p.Geometry,
			T:           p.T,
			HitGroup:    p.HitGroup,
			Primitive:   p.Primitive,
			Instance:    p.Instance,
			Barycentric: p.Barycentric,
		}
		cand := Candidate{HitGroup: p.HitGroup, Primitive: p.Primitive, Instance: p.Instance, ShaderData: p.ShaderData}
		switch {
		case p.Geometry == GeometryAABBs:
			if g.Intersection != nil {
				isect = append(isect, cand)
			}
		case g.AnyHit != nil:
			if p.T >= r.Tmin && p.T <= r.Tmax {
				anyHits = append(anyHits, hit)
				anyCands = append(anyCands, cand)
			}
		case rec.Accepts(p.T):
			rec.HitGeometry = true
			rec.Closest = hit
		}
	}

	addr, err := s.alloc(RecordSize)
	if err != nil {
		return 0, err
	}
	if len(anyHits) > 0 {
		if rec.AllHits, err = s.alloc(uint64(len(anyHits)) * HitSize); err != nil {
			return 0, err
		}
		rec.NumAllHits = uint32(len(anyHits))
		for i, h := range anyHits {
			if err := WriteHit(s.Global, rec.AllHits+uint64(i)*HitSize, h); err != nil {
				return 0, err
			}
		}
	}
	if err := WriteRecord(s.Global, addr, rec); err != nil {
		return 0, err
	}
	if rec.HitGeometry {
		if err := s.setHitAttribute(k, rec.Closest.Barycentric); err != nil {
			return 0, err
		}
	}

	s.missIdx[addr] = r.MissIndex
	s.setTable(k, ShaderIntersection, isect)
	s.setTable(k, ShaderAnyHit, anyCands)
	return addr, nil
}

func (s *Static) setTable(k Key, kind ShaderKind, cands []Candidate) {
	tk := tableKey{k.Warp, kind}
	t, ok := s.tables[tk]
	if !ok {
		t = make(map[int][]Candidate)
		s.tables[tk] = t
	}
	if len(cands) == 0 {
		delete(t, k.Lane)
		return
	}
	t[k.Lane] = cands
}

// EndTraceRay implements Service.
func (s *Static) EndTraceRay(k Key, record uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if _, ok := s.missIdx[record]; !ok {
		return fmt.Errorf("%w: 0x%x", ErrNoRecord, record)
	}
	delete(s.missIdx, record)
	s.setTable(k, ShaderIntersection, nil)
	s.setTable(k, ShaderAnyHit, nil)
	return nil
}

// Shader implements Service.
func (s *Static) Shader(k Key, kind ShaderKind, record uint64, counter uint32) (*isa.Function, error) {
	switch kind {
	case ShaderMiss:
		s.mu.Lock()
		s.init()
		idx, ok := s.missIdx[record]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: 0x%x", ErrNoRecord, record)
		}
		if int(idx) >= len(s.Miss) {
			return nil, nil
		}
		return s.Miss[idx], nil
	case ShaderClosestHit:
		rec, err := ReadRecord(s.Global, record)
		if err != nil {
			return nil, err
		}
		if !rec.HitGeometry {
			return nil, nil
		}
		g, ok := s.group(rec.Closest.HitGroup)
		if !ok {
			return nil, fmt.Errorf("%w: hit group %d", ErrUnknownShader, rec.Closest.HitGroup)
		}
		return g.ClosestHit, nil
	case ShaderIntersection, ShaderAnyHit:
		c, ok := s.Candidate(k, kind, counter)
		if !ok {
			return nil, nil
		}
		g, ok := s.group(c.HitGroup)
		if !ok {
			return nil, fmt.Errorf("%w: hit group %d", ErrUnknownShader, c.HitGroup)
		}
		if kind == ShaderAnyHit {
			return g.AnyHit, nil
		}
		return g.Intersection, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrBadShaderKind, kind)
}

// ShaderID implements Service.
func (s *Static) ShaderID(kind ShaderKind, hitGroup int32) (uint32, error) {
	g, ok := s.group(hitGroup)
	if !ok {
		return 0, fmt.Errorf("%w: hit group %d", ErrUnknownShader, hitGroup)
	}
	switch kind {
	case ShaderClosestHit:
		return g.ClosestHitID, nil
	case ShaderAnyHit:
		return g.AnyHitID, nil
	case ShaderIntersection:
		return g.IntersectionID, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrBadShaderKind, kind)
}

// Candidate implements Service.
func (s *Static) Candidate(k Key, table ShaderKind, counter uint32) (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	cands := s.tables[tableKey{k.Warp, table}][k.Lane]
	if int(counter) >= len(cands) {
		return Candidate{}, false
	}
	return cands[counter], true
}

// ExitShaders implements Service.
func (s *Static) ExitShaders(k Key, table ShaderKind, counter uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	longest := 0
	for _, cands := range s.tables[tableKey{k.Warp, table}] {
		longest = max(longest, len(cands))
	}
	return int(counter) >= longest
}

// Descriptor implements Service.
func (s *Static) Descriptor(set, binding uint32) (uint64, error) {
	addr, ok := s.Bindings[[2]uint32{set, binding}]
	if !ok {
		return 0, fmt.Errorf("%w: set %d binding %d", ErrUnknownBinding, set, binding)
	}
	return addr, nil
}

// AllocMem implements Service.
func (s *Static) AllocMem(k Key, name string, size, mode uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocVar(k, name, size, mode)
}

func (s *Static) allocVar(k Key, name string, size, mode uint32) (uint64, error) {
	s.init()
	vars, ok := s.vars[k.Thread]
	if !ok {
		vars = make(map[string]variable)
		s.vars[k.Thread] = vars
	}
	if v, ok := vars[name]; ok {
		if v.size != size && v.mode != ModeHitAttrib {
			return 0, fmt.Errorf("%w: %s is %d bytes, requested %d", ErrSizeMismatch, name, v.size, size)
		}
		return v.addr, nil
	}
	addr, err := s.alloc(uint64(size))
	if err != nil {
		return 0, err
	}
	vars[name] = variable{addr: addr, size: size, mode: mode}
	return addr, nil
}

// SetHitAttribute implements Service.
func (s *Static) SetHitAttribute(k Key, bary [3]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHitAttribute(k, bary)
}

// hitAttribAddr returns the address of the thread's hit attribute
// variable. Callers hold s.mu.
func (s *Static) hitAttribAddr(k Key) (uint64, bool) {
	var names []string
	for name, v := range s.vars[k.Thread] {
		if v.mode == ModeHitAttrib {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, false
	}
	sort.Strings(names)
	return s.vars[k.Thread][names[0]].addr, true
}

// setHitAttribute writes bary to the thread's hit attribute variable,
// declaring it when the shaders have not. Callers hold s.mu.
func (s *Static) setHitAttribute(k Key, bary [3]float32) error {
	s.init()
	addr, ok := s.hitAttribAddr(k)
	if !ok {
		var err error
		if addr, err = s.allocVar(k, hitAttribName, 12, ModeHitAttrib); err != nil {
			return err
		}
	}
	for i, f := range bary {
		if err := WriteF32(s.Global, addr+uint64(4*i), f); err != nil {
			return err
		}
	}
	return nil
}

// HitAttribute returns the thread's hit attribute.
func (s *Static) HitAttribute(k Key) ([3]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	var out [3]float32
	addr, ok := s.hitAttribAddr(k)
	if !ok {
		return out, fmt.Errorf("%w: no hit attribute for thread %d", ErrNoRecord, k.Thread)
	}
	for i := range out {
		f, err := ReadF32(s.Global, addr+uint64(4*i))
		if err != nil {
			return out, err
		}
		out[i] = f
	}
	return out, nil
}
