// Package raytrace defines the traversal service behind the ray-tracing
// dispatch instructions and the traversal record those instructions
// share with it in global memory.
//
// Acceleration-structure traversal is not modelled here. The engine calls
// a Service to start and end a trace, to look up candidate intersections
// per warp and shader counter, and to resolve shader functions; Static is
// a table-driven reference used by tests and the CLI.
package raytrace

import (
	"errors"

	"github.com/akhildatla/warpsim/pkg/isa"
)

var (
	ErrNoRecord        = errors.New("no traversal record")
	ErrUnknownShader   = errors.New("unknown shader")
	ErrUnknownBinding  = errors.New("unknown descriptor binding")
	ErrSizeMismatch    = errors.New("variable redeclared with a different size")
	ErrOutOfRTMemory   = errors.New("ray-tracing memory exhausted")
	ErrBadShaderKind   = errors.New("bad shader kind")
)

// ShaderKind identifies a ray-tracing shader stage. The intersection and
// any-hit values are also the shader kind field of a traversal record.
type ShaderKind uint32

const (
	ShaderNone ShaderKind = iota
	ShaderIntersection
	ShaderAnyHit
	ShaderMiss
	ShaderClosestHit
)

var shaderKindNames = [...]string{"none", "intersection", "anyhit", "miss", "closesthit"}

func (k ShaderKind) String() string {
	if int(k) < len(shaderKindNames) {
		return shaderKindNames[k]
	}
	return "UNKNOWN"
}

// Key identifies the thread issuing a ray-tracing instruction. Candidate
// tables are kept per warp and indexed by lane.
type Key struct {
	Thread int
	Warp   int
	Lane   int
}

// Ray holds the trace_ray operands.
type Ray struct {
	AccelStruct uint64
	Flags       uint32
	CullMask    uint32
	SBTOffset   uint32
	SBTStride   uint32
	MissIndex   uint32
	Origin      [3]float32
	Tmin        float32
	Direction   [3]float32
	Tmax        float32
}

// Candidate is one entry of a warp's intersection or any-hit table.
type Candidate struct {
	HitGroup   int32
	Primitive  uint32
	Instance   uint32
	ShaderData uint64 // address of the shader's data block
}

// Service is the traversal and shader-table service.
type Service interface {
	// LaunchSize returns the dimensions of the ray launch.
	LaunchSize() [3]uint32

	// TraceRay traverses the scene and returns the address of a new
	// traversal record in global memory.
	TraceRay(k Key, r Ray) (uint64, error)
	// EndTraceRay releases the record returned by TraceRay.
	EndTraceRay(k Key, record uint64) error

	// Shader returns the function to run for a shader stage. It returns nil
	// when the stage has nothing to run for this thread.
	Shader(k Key, kind ShaderKind, record uint64, counter uint32) (*isa.Function, error)
	// ShaderID returns the shader binding table entry of a hit group.
	ShaderID(kind ShaderKind, hitGroup int32) (uint32, error)

	// Candidate looks up the entry of the lane at counter in the warp's
	// intersection or any-hit table.
	Candidate(k Key, table ShaderKind, counter uint32) (Candidate, bool)
	// ExitShaders reports whether counter is past the last entry of the
	// warp's table.
	ExitShaders(k Key, table ShaderKind, counter uint32) bool

	// Descriptor returns the address bound to a descriptor set binding.
	Descriptor(set, binding uint32) (uint64, error)
	// AllocMem returns the address of a named shader variable of the
	// thread, allocating it on first use.
	AllocMem(k Key, name string, size, mode uint32) (uint64, error)
	// SetHitAttribute stores the barycentric hit attribute of the thread.
	SetHitAttribute(k Key, bary [3]float32) error
}
