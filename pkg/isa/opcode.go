package isa

// Opcode identifies the operation of a decoded instruction.
type Opcode uint8

const (
	// ===== Arithmetic (0x00-0x1F) =====
	OpAdd       Opcode = 0x00 // d = a + b
	OpAddp      Opcode = 0x01 // d = a + b + carry(c), PTXPlus
	OpAddc      Opcode = 0x02 // add with carry-in (not implemented)
	OpSub       Opcode = 0x03 // d = a - b
	OpSubc      Opcode = 0x04 // sub with borrow-in (not implemented)
	OpMul       Opcode = 0x05 // d = a * b (.lo/.hi/.wide)
	OpMul24     Opcode = 0x06 // d = a[23:0] * b[23:0]
	OpMad       Opcode = 0x07 // d = a * b + c
	OpMadp      Opcode = 0x08 // PTXPlus mad with carry predicate
	OpMadc      Opcode = 0x09 // mad with carry-in
	OpMad24     Opcode = 0x0A // d = a[23:0] * b[23:0] + c
	OpFma       Opcode = 0x0B // fused d = a * b + c
	OpDiv       Opcode = 0x0C // d = a / b
	OpRem       Opcode = 0x0D // d = a % b
	OpAbs       Opcode = 0x0E // d = |a|
	OpNeg       Opcode = 0x0F // d = -a
	OpMin       Opcode = 0x10 // d = min(a, b)
	OpMax       Opcode = 0x11 // d = max(a, b)
	OpSad       Opcode = 0x12 // d = |a - b| + c
	OpCopysignf Opcode = 0x13 // d = copysign(b, a)
	OpRcp       Opcode = 0x14 // d = 1 / a
	OpSqrt      Opcode = 0x15 // d = sqrt(a)
	OpRsqrt     Opcode = 0x16 // d = 1 / sqrt(a)
	OpSin       Opcode = 0x17 // d = sin(a)
	OpCos       Opcode = 0x18 // d = cos(a)
	OpLg2       Opcode = 0x19 // d = log2(a)
	OpEx2       Opcode = 0x1A // d = 2^a
	OpDp4a      Opcode = 0x1B // not implemented
	OpMma       Opcode = 0x1C // not implemented
	OpMmaLd     Opcode = 0x1D // not implemented
	OpMmaSt     Opcode = 0x1E // not implemented

	// ===== Logic and bit manipulation (0x20-0x3F) =====
	OpAnd   Opcode = 0x20 // d = a & b
	OpAndn  Opcode = 0x21 // d = a & ^b
	OpOr    Opcode = 0x22 // d = a | b
	OpOrn   Opcode = 0x23 // d = a | ^b
	OpXor   Opcode = 0x24 // d = a ^ b
	OpNot   Opcode = 0x25 // d = ^a
	OpCnot  Opcode = 0x26 // d = a == 0
	OpNandn Opcode = 0x27 // d = ^(a & ^b)
	OpNorn  Opcode = 0x28 // d = ^(a | ^b)
	OpShl   Opcode = 0x29 // d = a << b
	OpShr   Opcode = 0x2A // d = a >> b
	OpBfe   Opcode = 0x2B // d = a[pos +: len]
	OpBfi   Opcode = 0x2C // d = insert a into b at [pos +: len]
	OpBfind Opcode = 0x2D // d = index of most significant non-sign bit
	OpBrev  Opcode = 0x2E // d = reverse(a)
	OpClz   Opcode = 0x2F // d = leading zeros of a
	OpPopc  Opcode = 0x30 // d = ones in a
	OpPrmt  Opcode = 0x31 // d = byte permute of {b, a}
	OpShf   Opcode = 0x32 // funnel shift

	// ===== Comparison and select (0x40-0x47) =====
	OpSetp Opcode = 0x40 // p = a cmp b
	OpSet  Opcode = 0x41 // d = a cmp b ? -1 : 0
	OpSelp Opcode = 0x42 // d = p ? a : b
	OpSlct Opcode = 0x43 // d = c >= 0 ? a : b

	// ===== Conversion and data movement (0x48-0x5F) =====
	OpCvt       Opcode = 0x48 // d = convert(a)
	OpCvta      Opcode = 0x49 // generic <-> specific address
	OpIsspacep  Opcode = 0x4A // p = a in space
	OpMov       Opcode = 0x4B // d = a
	OpLd        Opcode = 0x4C // d = [a]
	OpLdu       Opcode = 0x4D // d = [a], uniform
	OpSt        Opcode = 0x4E // [d] = a
	OpSst       Opcode = 0x4F // sparse store (not implemented)
	OpPrefetch  Opcode = 0x50 // not implemented
	OpPrefetchu Opcode = 0x51 // not implemented

	// ===== Control flow (0x60-0x6F) =====
	OpBra       Opcode = 0x60 // pc = target
	OpBrx       Opcode = 0x61 // pc = table[a]
	OpCall      Opcode = 0x62 // call function
	OpCallp     Opcode = 0x63 // PTXPlus call to label
	OpRet       Opcode = 0x64 // return from function
	OpRetp      Opcode = 0x65 // PTXPlus return
	OpExit      Opcode = 0x66 // terminate thread
	OpBreak     Opcode = 0x67 // pc = popped break address
	OpBreakaddr Opcode = 0x68 // push break address
	OpSsy       Opcode = 0x69 // reconvergence hint, no-op
	OpNop       Opcode = 0x6A // no operation
	OpTrap      Opcode = 0x6B // not implemented
	OpBrkpt     Opcode = 0x6C // not implemented
	OpPmevent   Opcode = 0x6D // not implemented

	// ===== Synchronisation and collectives (0x70-0x7F) =====
	OpBar        Opcode = 0x70 // barrier with optional reduction
	OpMembar     Opcode = 0x71 // memory barrier, no-op
	OpAtom       Opcode = 0x72 // atomic read-modify-write
	OpRed        Opcode = 0x73 // not implemented
	OpVote       Opcode = 0x74 // warp vote
	OpActivemask Opcode = 0x75 // d = active lanes
	OpShfl       Opcode = 0x76 // warp shuffle

	// ===== Texture and surface (0x80-0x87) =====
	OpTex   Opcode = 0x80 // sample texture
	OpTxq   Opcode = 0x81 // not implemented
	OpTxl   Opcode = 0x82 // sample texture at level of detail
	OpSuld  Opcode = 0x83 // not implemented
	OpSust  Opcode = 0x84 // not implemented
	OpSured Opcode = 0x85 // not implemented
	OpSuq   Opcode = 0x86 // not implemented

	// ===== Video (0x88-0x8F) =====
	OpVabsdiff Opcode = 0x88
	OpVadd     Opcode = 0x89
	OpVsub     Opcode = 0x8A
	OpVmad     Opcode = 0x8B
	OpVmin     Opcode = 0x8C
	OpVmax     Opcode = 0x8D
	OpVset     Opcode = 0x8E
	OpVshl     Opcode = 0x8F
	OpVshr     Opcode = 0x90

	// ===== Ray tracing (0xA0-0xDF) =====
	OpLoadRayLaunchID                Opcode = 0xA0
	OpLoadRayLaunchSize              Opcode = 0xA1
	OpLoadRayInstanceCustomIndex     Opcode = 0xA2
	OpLoadRayPrimitiveID                Opcode = 0xA3
	OpLoadRayWorldToObject           Opcode = 0xA4
	OpLoadRayObjectToWorld           Opcode = 0xA5
	OpLoadRayWorldDirection          Opcode = 0xA6
	OpLoadRayWorldOrigin             Opcode = 0xA7
	OpLoadRayTMax                    Opcode = 0xA8
	OpLoadRayTMin                    Opcode = 0xA9
	OpVulkanResourceIndex            Opcode = 0xAA
	OpLoadVulkanDescriptor           Opcode = 0xAB
	OpIgnoreRayIntersection          Opcode = 0xAC
	OpReportRayIntersection          Opcode = 0xAD
	OpDerefVar                       Opcode = 0xAE
	OpDerefCast                      Opcode = 0xAF
	OpDerefStruct                    Opcode = 0xB0
	OpDerefArray                     Opcode = 0xB1
	OpLoadDeref                      Opcode = 0xB2
	OpStoreDeref                     Opcode = 0xB3
	OpTraceRay                       Opcode = 0xB4
	OpEndTraceRay                    Opcode = 0xB5
	OpCallPC                         Opcode = 0xB6
	OpCallMissShader                 Opcode = 0xB7
	OpCallClosestHitShader           Opcode = 0xB8
	OpCallIntersectionShader         Opcode = 0xB9
	OpCallAnyhitShader               Opcode = 0xBA
	OpImageDerefStore                Opcode = 0xBB
	OpImageDerefLoad                 Opcode = 0xBC
	OpRtAllocMem                     Opcode = 0xBD
	OpRunAnyhit                      Opcode = 0xBE
	OpAnyhitExit                     Opcode = 0xBF
	OpGetAnyhitShaderDataAddress     Opcode = 0xC0
	OpRunIntersection                Opcode = 0xC1
	OpIntersectionExit               Opcode = 0xC2
	OpGetIntersectionShaderDataAddr  Opcode = 0xC3
	OpHitGeometry                    Opcode = 0xC4
	OpGetAnyhitIndex                 Opcode = 0xC5
	OpGetIntersectionIndex           Opcode = 0xC6
	OpGetHitgroup                    Opcode = 0xC7
	OpGetWarpHitgroup                Opcode = 0xC8
	OpGetClosestHitShaderID          Opcode = 0xC9
	OpGetIntersectionShaderID        Opcode = 0xCA
	OpGetAnyhitShaderID              Opcode = 0xCB
	OpWrap32x4                       Opcode = 0xCC
	OpUnwrap32x4                     Opcode = 0xCD
	OpGetElement32                   Opcode = 0xCE
	OpSetElement32                   Opcode = 0xCF
	OpShaderClock                    Opcode = 0xD0
)

var opcodeNames = map[Opcode]string{
	OpAdd: "add", OpAddp: "addp", OpAddc: "addc", OpSub: "sub", OpSubc: "subc",
	OpMul: "mul", OpMul24: "mul24", OpMad: "mad", OpMadp: "madp", OpMadc: "madc",
	OpMad24: "mad24", OpFma: "fma", OpDiv: "div", OpRem: "rem", OpAbs: "abs",
	OpNeg: "neg", OpMin: "min", OpMax: "max", OpSad: "sad", OpCopysignf: "copysignf",
	OpRcp: "rcp", OpSqrt: "sqrt", OpRsqrt: "rsqrt", OpSin: "sin", OpCos: "cos",
	OpLg2: "lg2", OpEx2: "ex2", OpDp4a: "dp4a", OpMma: "mma", OpMmaLd: "mma_ld",
	OpMmaSt: "mma_st",

	OpAnd: "and", OpAndn: "andn", OpOr: "or", OpOrn: "orn", OpXor: "xor", OpNot: "not",
	OpCnot: "cnot", OpNandn: "nandn", OpNorn: "norn", OpShl: "shl", OpShr: "shr",
	OpBfe: "bfe", OpBfi: "bfi", OpBfind: "bfind", OpBrev: "brev", OpClz: "clz",
	OpPopc: "popc", OpPrmt: "prmt", OpShf: "shf",

	OpSetp: "setp", OpSet: "set", OpSelp: "selp", OpSlct: "slct",

	OpCvt: "cvt", OpCvta: "cvta", OpIsspacep: "isspacep", OpMov: "mov", OpLd: "ld",
	OpLdu: "ldu", OpSt: "st", OpSst: "sst", OpPrefetch: "prefetch", OpPrefetchu: "prefetchu",

	OpBra: "bra", OpBrx: "brx", OpCall: "call", OpCallp: "callp", OpRet: "ret",
	OpRetp: "retp", OpExit: "exit", OpBreak: "break", OpBreakaddr: "breakaddr",
	OpSsy: "ssy", OpNop: "nop", OpTrap: "trap", OpBrkpt: "brkpt", OpPmevent: "pmevent",

	OpBar: "bar", OpMembar: "membar", OpAtom: "atom", OpRed: "red", OpVote: "vote",
	OpActivemask: "activemask", OpShfl: "shfl",

	OpTex: "tex", OpTxq: "txq", OpTxl: "txl", OpSuld: "suld", OpSust: "sust",
	OpSured: "sured", OpSuq: "suq",

	OpVabsdiff: "vabsdiff", OpVadd: "vadd", OpVsub: "vsub", OpVmad: "vmad",
	OpVmin: "vmin", OpVmax: "vmax", OpVset: "vset", OpVshl: "vshl", OpVshr: "vshr",

	OpLoadRayLaunchID:               "load_ray_launch_id",
	OpLoadRayLaunchSize:             "load_ray_launch_size",
	OpLoadRayInstanceCustomIndex:    "load_ray_instance_custom_index",
	OpLoadRayPrimitiveID:               "load_primitive_id",
	OpLoadRayWorldToObject:          "load_ray_world_to_object",
	OpLoadRayObjectToWorld:          "load_ray_object_to_world",
	OpLoadRayWorldDirection:         "load_ray_world_direction",
	OpLoadRayWorldOrigin:            "load_ray_world_origin",
	OpLoadRayTMax:                   "load_ray_t_max",
	OpLoadRayTMin:                   "load_ray_t_min",
	OpVulkanResourceIndex:           "vulkan_resource_index",
	OpLoadVulkanDescriptor:          "load_vulkan_descriptor",
	OpIgnoreRayIntersection:         "ignore_ray_intersection",
	OpReportRayIntersection:         "report_ray_intersection",
	OpDerefVar:                      "deref_var",
	OpDerefCast:                     "deref_cast",
	OpDerefStruct:                   "deref_struct",
	OpDerefArray:                    "deref_array",
	OpLoadDeref:                     "load_deref",
	OpStoreDeref:                    "store_deref",
	OpTraceRay:                      "trace_ray",
	OpEndTraceRay:                   "end_trace_ray",
	OpCallPC:                        "call_pc",
	OpCallMissShader:                "call_miss_shader",
	OpCallClosestHitShader:          "call_closest_hit_shader",
	OpCallIntersectionShader:        "call_intersection_shader",
	OpCallAnyhitShader:              "call_anyhit_shader",
	OpImageDerefStore:               "image_deref_store",
	OpImageDerefLoad:                "image_deref_load",
	OpRtAllocMem:                    "rt_alloc_mem",
	OpRunAnyhit:                     "run_anyhit",
	OpAnyhitExit:                    "anyhit_exit",
	OpGetAnyhitShaderDataAddress:    "get_anyhit_shader_data_address",
	OpRunIntersection:               "run_intersection",
	OpIntersectionExit:              "intersection_exit",
	OpGetIntersectionShaderDataAddr: "get_intersection_shader_data_address",
	OpHitGeometry:                   "hit_geometry",
	OpGetAnyhitIndex:                "get_anyhit_index",
	OpGetIntersectionIndex:          "get_intersection_index",
	OpGetHitgroup:                   "get_hitgroup",
	OpGetWarpHitgroup:               "get_warp_hitgroup",
	OpGetClosestHitShaderID:         "get_closest_hit_shaderID",
	OpGetIntersectionShaderID:       "get_intersection_shaderID",
	OpGetAnyhitShaderID:             "get_anyhit_shaderID",
	OpWrap32x4:                      "wrap_32_4",
	OpUnwrap32x4:                    "unwrap_32_4",
	OpGetElement32:                  "get_element_32",
	OpSetElement32:                  "set_element_32",
	OpShaderClock:                   "shader_clock",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = op
	}
	return m
}()

// String returns the mnemonic of an opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// OpcodeFromString returns the opcode for the given mnemonic.
func OpcodeFromString(s string) (Opcode, bool) {
	op, ok := opcodesByName[s]
	return op, ok
}

// IsRayTracing reports whether the opcode belongs to the ray tracing extension.
func (o Opcode) IsRayTracing() bool {
	return o >= OpLoadRayLaunchID && o <= OpShaderClock
}

// IsBranch reports whether the opcode may redirect control flow.
func (o Opcode) IsBranch() bool {
	switch o {
	case OpBra, OpBrx, OpCall, OpCallp, OpRet, OpRetp, OpExit, OpBreak:
		return true
	}
	return false
}
