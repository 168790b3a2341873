package raytrace

import (
	"math"

	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Traversal record layout in global memory. One record exists per
// outstanding trace_ray of a thread; the dispatch instructions read and
// update it in place.
//
//	offset  size  field
//	0       12    ray origin (3 x f32)
//	12      4     Tmin (f32)
//	16      12    ray direction (3 x f32)
//	28      4     Tmax (f32)
//	32      4     hit geometry (u32, non-zero when a hit is recorded)
//	36      4     current shader counter (s32, -1 outside a shader)
//	40      4     current shader kind (u32, intersection or any-hit)
//	44      4     number of any-hit candidates (u32)
//	48      8     address of the any-hit candidate array (u64)
//	56      128   closest hit record
const (
	OffOrigin        = 0
	OffTmin          = 12
	OffDirection     = 16
	OffTmax          = 28
	OffHitGeometry   = 32
	OffShaderCounter = 36
	OffShaderKind    = 40
	OffNumAllHits    = 44
	OffAllHits       = 48
	OffClosestHit    = 56
	RecordSize       = OffClosestHit + HitSize
)

// Hit record layout, used for the closest hit and each any-hit candidate.
//
//	offset  size  field
//	0       4     geometry type (u32)
//	4       4     world-space t of the hit (f32)
//	8       4     hit group index (s32)
//	12      4     primitive index (u32)
//	16      4     instance index (u32)
//	20      12    barycentric coordinates (3 x f32)
//	32      48    world-to-object matrix (3x4 f32, row major)
//	80      48    object-to-world matrix (3x4 f32, row major)
const (
	HitOffGeometry      = 0
	HitOffT             = 4
	HitOffGroup         = 8
	HitOffPrimitive     = 12
	HitOffInstance      = 16
	HitOffBarycentric   = 20
	HitOffWorldToObject = 32
	HitOffObjectToWorld = 80
	HitSize             = 128
)

// NoShader is the shader counter value outside intersection and any-hit
// shaders.
const NoShader int32 = -1

// GeometryType is the kind of geometry a hit was found on.
type GeometryType uint32

const (
	GeometryTriangles GeometryType = iota
	GeometryAABBs
)

func (g GeometryType) String() string {
	if g == GeometryAABBs {
		return "aabbs"
	}
	return "triangles"
}

// Hit is a decoded hit record.
type Hit struct {
	Geometry      GeometryType
	T             float32
	HitGroup      int32
	Primitive     uint32
	Instance      uint32
	Barycentric   [3]float32
	WorldToObject [12]float32
	ObjectToWorld [12]float32
}

// IgnoredT is the distance ignore_ray_intersection stores in a discarded
// any-hit candidate.
var IgnoredT = float32(math.Inf(-1))

// Ignored reports whether the candidate was discarded by its any-hit shader.
func (h Hit) Ignored() bool { return math.IsInf(float64(h.T), -1) }

// Record is a decoded traversal record.
type Record struct {
	Origin        [3]float32
	Tmin          float32
	Direction     [3]float32
	Tmax          float32
	HitGeometry   bool
	ShaderCounter int32
	ShaderKind    ShaderKind
	NumAllHits    uint32
	AllHits       uint64
	Closest       Hit
}

// Accepts reports whether a candidate at distance t replaces the recorded
// closest hit: it must lie in [Tmin, Tmax] and be strictly closer than any
// hit already recorded.
func (r *Record) Accepts(t float32) bool {
	if t < r.Tmin || t > r.Tmax {
		return false
	}
	return !r.HitGeometry || t < r.Closest.T
}

// ReadU32 reads a little-endian u32 from s.
func ReadU32(s memory.Store, addr uint64) (uint32, error) {
	v, err := s.Read(addr, 4)
	return v.U32(), err
}

// WriteU32 writes a little-endian u32 to s.
func WriteU32(s memory.Store, addr uint64, v uint32) error {
	return s.Write(addr, 4, value.FromU64(uint64(v)))
}

// ReadF32 reads an f32 from s.
func ReadF32(s memory.Store, addr uint64) (float32, error) {
	v, err := s.Read(addr, 4)
	return v.F32(), err
}

// WriteF32 writes an f32 to s.
func WriteF32(s memory.Store, addr uint64, f float32) error {
	return s.Write(addr, 4, value.FromF32(f))
}

// fieldIO walks a record once, reading or writing each field.
type fieldIO struct {
	s     memory.Store
	write bool
	err   error
}

func (io *fieldIO) u32(addr uint64, p *uint32) {
	if io.err != nil {
		return
	}
	if io.write {
		io.err = WriteU32(io.s, addr, *p)
		return
	}
	*p, io.err = ReadU32(io.s, addr)
}

func (io *fieldIO) u64(addr uint64, p *uint64) {
	if io.err != nil {
		return
	}
	if io.write {
		io.err = io.s.Write(addr, 8, value.FromU64(*p))
		return
	}
	var v value.Reg
	v, io.err = io.s.Read(addr, 8)
	*p = v.U64()
}

func (io *fieldIO) f32s(addr uint64, fs []float32) {
	for i := range fs {
		bits := math.Float32bits(fs[i])
		io.u32(addr+uint64(4*i), &bits)
		fs[i] = math.Float32frombits(bits)
	}
}

func (io *fieldIO) s32(addr uint64, p *int32) {
	u := uint32(*p)
	io.u32(addr, &u)
	*p = int32(u)
}

func (io *fieldIO) hit(addr uint64, h *Hit) {
	geom := uint32(h.Geometry)
	io.u32(addr+HitOffGeometry, &geom)
	h.Geometry = GeometryType(geom)
	ts := []float32{h.T}
	io.f32s(addr+HitOffT, ts)
	h.T = ts[0]
	io.s32(addr+HitOffGroup, &h.HitGroup)
	io.u32(addr+HitOffPrimitive, &h.Primitive)
	io.u32(addr+HitOffInstance, &h.Instance)
	io.f32s(addr+HitOffBarycentric, h.Barycentric[:])
	io.f32s(addr+HitOffWorldToObject, h.WorldToObject[:])
	io.f32s(addr+HitOffObjectToWorld, h.ObjectToWorld[:])
}

func (io *fieldIO) record(addr uint64, r *Record) {
	io.f32s(addr+OffOrigin, r.Origin[:])
	lim := []float32{r.Tmin}
	io.f32s(addr+OffTmin, lim)
	r.Tmin = lim[0]
	io.f32s(addr+OffDirection, r.Direction[:])
	lim[0] = r.Tmax
	io.f32s(addr+OffTmax, lim)
	r.Tmax = lim[0]

	var hit uint32
	if r.HitGeometry {
		hit = 1
	}
	io.u32(addr+OffHitGeometry, &hit)
	r.HitGeometry = hit != 0
	io.s32(addr+OffShaderCounter, &r.ShaderCounter)
	kind := uint32(r.ShaderKind)
	io.u32(addr+OffShaderKind, &kind)
	r.ShaderKind = ShaderKind(kind)
	io.u32(addr+OffNumAllHits, &r.NumAllHits)
	io.u64(addr+OffAllHits, &r.AllHits)
	io.hit(addr+OffClosestHit, &r.Closest)
}

// ReadRecord decodes the traversal record at addr.
func ReadRecord(s memory.Store, addr uint64) (Record, error) {
	var r Record
	io := fieldIO{s: s}
	io.record(addr, &r)
	return r, io.err
}

// WriteRecord encodes r at addr.
func WriteRecord(s memory.Store, addr uint64, r Record) error {
	io := fieldIO{s: s, write: true}
	io.record(addr, &r)
	return io.err
}

// ReadHit decodes the hit record at addr.
func ReadHit(s memory.Store, addr uint64) (Hit, error) {
	var h Hit
	io := fieldIO{s: s}
	io.hit(addr, &h)
	return h, io.err
}

// WriteHit encodes h at addr.
func WriteHit(s memory.Store, addr uint64, h Hit) error {
	io := fieldIO{s: s, write: true}
	io.hit(addr, &h)
	return io.err
}
