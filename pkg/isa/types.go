package isa

import "strings"

// Type is the value type tag carried by instructions and operands.
type Type uint8

const (
	TypeNone Type = iota
	S8
	S16
	S32
	S64
	U8
	U16
	U32
	U64
	F16
	F32
	F64
	FF64 // PTXPlus double held in a register pair
	B8
	B16
	B32
	B64
	BB64  // 64-bit aggregate of two 32-bit halves
	BB128 // 128-bit aggregate of four 32-bit lanes
	Pred
	TexRef
	SamplerRef
	SurfRef
)

var typeNames = [...]string{
	TypeNone:   "",
	S8:         "s8",
	S16:        "s16",
	S32:        "s32",
	S64:        "s64",
	U8:         "u8",
	U16:        "u16",
	U32:        "u32",
	U64:        "u64",
	F16:        "f16",
	F32:        "f32",
	F64:        "f64",
	FF64:       "ff64",
	B8:         "b8",
	B16:        "b16",
	B32:        "b32",
	B64:        "b64",
	BB64:       "bb64",
	BB128:      "bb128",
	Pred:       "pred",
	TexRef:     "texref",
	SamplerRef: "samplerref",
	SurfRef:    "surfref",
}

// String returns the PTX spelling of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// TypeFromString returns the type for its PTX spelling, with or without a
// leading dot.
func TypeFromString(s string) (Type, bool) {
	s = strings.TrimPrefix(s, ".")
	for i, n := range typeNames {
		if n == s && s != "" {
			return Type(i), true
		}
	}
	return TypeNone, false
}

// Bits returns the width of the type in bits, or 0 for reference types.
func (t Type) Bits() int {
	switch t {
	case S8, U8, B8:
		return 8
	case S16, U16, B16, F16:
		return 16
	case S32, U32, B32, F32:
		return 32
	case S64, U64, B64, F64, FF64, BB64:
		return 64
	case BB128:
		return 128
	case Pred:
		return 1
	}
	return 0
}

// Bytes returns the memory footprint of one element of the type.
func (t Type) Bytes() int {
	if t == Pred {
		return 1
	}
	return t.Bits() / 8
}

// IsSigned reports whether t is a signed integer type.
func (t Type) IsSigned() bool {
	return t >= S8 && t <= S64
}

// IsUnsigned reports whether t is an unsigned integer type.
func (t Type) IsUnsigned() bool {
	return t >= U8 && t <= U64
}

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool {
	return t == F16 || t == F32 || t == F64 || t == FF64
}

// IsBits reports whether t is an untyped bit pattern.
func (t Type) IsBits() bool {
	return t >= B8 && t <= B64
}

// Space is the state space an operand or symbol lives in.
type Space uint8

const (
	SpaceUndefined Space = iota
	SpaceReg
	SpaceLocal
	SpaceShared
	SpaceSStarr
	SpaceParamUnclassified
	SpaceParamKernel
	SpaceParamLocal
	SpaceConst
	SpaceTex
	SpaceSurf
	SpaceGlobal
	SpaceGeneric
	SpaceInstruction
)

var spaceNames = [...]string{
	SpaceUndefined:         "",
	SpaceReg:               "reg",
	SpaceLocal:             "local",
	SpaceShared:            "shared",
	SpaceSStarr:            "sstarr",
	SpaceParamUnclassified: "param",
	SpaceParamKernel:       "param_kernel",
	SpaceParamLocal:        "param_local",
	SpaceConst:             "const",
	SpaceTex:               "tex",
	SpaceSurf:              "surf",
	SpaceGlobal:            "global",
	SpaceGeneric:           "generic",
	SpaceInstruction:       "instruction",
}

func (s Space) String() string {
	if int(s) < len(spaceNames) {
		return spaceNames[s]
	}
	return "UNKNOWN"
}

// SpaceFromString returns the space for its spelling.
func SpaceFromString(s string) (Space, bool) {
	s = strings.TrimPrefix(s, ".")
	for i, n := range spaceNames {
		if n == s {
			return Space(i), true
		}
	}
	return SpaceUndefined, false
}

// Rounding is an instruction rounding modifier.
type Rounding uint8

const (
	RoundNone Rounding = iota
	RN                 // nearest even
	RZ                 // toward zero
	RM                 // toward -inf
	RP                 // toward +inf
	RNI                // integral, nearest even
	RZI                // integral, toward zero
	RMI                // integral, toward -inf
	RPI                // integral, toward +inf
)

var roundingNames = [...]string{"", "rn", "rz", "rm", "rp", "rni", "rzi", "rmi", "rpi"}

func (r Rounding) String() string {
	if int(r) < len(roundingNames) {
		return roundingNames[r]
	}
	return "UNKNOWN"
}

// RoundingFromString parses a rounding modifier.
func RoundingFromString(s string) (Rounding, bool) {
	return lookup(roundingNames[:], s, RoundNone)
}

// CmpOp is a comparison operator for setp, set and slct.
type CmpOp uint8

const (
	CmpNone CmpOp = iota
	CmpEQ
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
	CmpLO
	CmpLS
	CmpHI
	CmpHS
	CmpEQU
	CmpNEU
	CmpLTU
	CmpLEU
	CmpGTU
	CmpGEU
	CmpNUM
	CmpNAN
)

var cmpNames = [...]string{"", "eq", "ne", "lt", "le", "gt", "ge", "lo", "ls", "hi", "hs",
	"equ", "neu", "ltu", "leu", "gtu", "geu", "num", "nan"}

func (c CmpOp) String() string {
	if int(c) < len(cmpNames) {
		return cmpNames[c]
	}
	return "UNKNOWN"
}

// CmpOpFromString parses a comparison operator.
func CmpOpFromString(s string) (CmpOp, bool) {
	return lookup(cmpNames[:], s, CmpNone)
}

// BoolOp combines a comparison result with a third predicate.
type BoolOp uint8

const (
	BoolNone BoolOp = iota
	BoolAnd
	BoolOr
	BoolXor
)

var boolNames = [...]string{"", "and", "or", "xor"}

func (b BoolOp) String() string {
	if int(b) < len(boolNames) {
		return boolNames[b]
	}
	return "UNKNOWN"
}

// AtomicOp is the read-modify-write operation of atom.
type AtomicOp uint8

const (
	AtomNone AtomicOp = iota
	AtomAnd
	AtomOr
	AtomXor
	AtomCAS
	AtomExch
	AtomAdd
	AtomInc
	AtomDec
	AtomMin
	AtomMax
)

var atomNames = [...]string{"", "and", "or", "xor", "cas", "exch", "add", "inc", "dec", "min", "max"}

func (a AtomicOp) String() string {
	if int(a) < len(atomNames) {
		return atomNames[a]
	}
	return "UNKNOWN"
}

// VoteMode selects the vote variant.
type VoteMode uint8

const (
	VoteNone VoteMode = iota
	VoteAny
	VoteAll
	VoteUni
	VoteBallot
)

var voteNames = [...]string{"", "any", "all", "uni", "ballot"}

func (v VoteMode) String() string {
	if int(v) < len(voteNames) {
		return voteNames[v]
	}
	return "UNKNOWN"
}

// ShflMode selects the shuffle addressing mode.
type ShflMode uint8

const (
	ShflNone ShflMode = iota
	ShflUp
	ShflDown
	ShflBfly
	ShflIdx
)

var shflNames = [...]string{"", "up", "down", "bfly", "idx"}

func (s ShflMode) String() string {
	if int(s) < len(shflNames) {
		return shflNames[s]
	}
	return "UNKNOWN"
}

// BarOp selects the barrier variant.
type BarOp uint8

const (
	BarSync BarOp = iota
	BarArrive
	BarRed
)

var barNames = [...]string{"sync", "arrive", "red"}

func (b BarOp) String() string {
	if int(b) < len(barNames) {
		return barNames[b]
	}
	return "UNKNOWN"
}

// RedOp is the reduction applied by bar.red.
type RedOp uint8

const (
	RedNone RedOp = iota
	RedAnd
	RedOr
	RedPopc
)

var redNames = [...]string{"", "and", "or", "popc"}

func (r RedOp) String() string {
	if int(r) < len(redNames) {
		return redNames[r]
	}
	return "UNKNOWN"
}

// MulMode selects which part of a product is kept.
type MulMode uint8

const (
	MulDefault MulMode = iota
	MulLo
	MulHi
	MulWide
)

var mulNames = [...]string{"", "lo", "hi", "wide"}

func (m MulMode) String() string {
	if int(m) < len(mulNames) {
		return mulNames[m]
	}
	return "UNKNOWN"
}

// PrmtMode selects the byte permute variant.
type PrmtMode uint8

const (
	PrmtDefault PrmtMode = iota
	PrmtF4E
	PrmtB4E
	PrmtRC8
	PrmtECL
	PrmtECR
	PrmtRC16
)

var prmtNames = [...]string{"", "f4e", "b4e", "rc8", "ecl", "ecr", "rc16"}

func (p PrmtMode) String() string {
	if int(p) < len(prmtNames) {
		return prmtNames[p]
	}
	return "UNKNOWN"
}

func lookup[T ~uint8](names []string, s string, none T) (T, bool) {
	s = strings.TrimPrefix(s, ".")
	for i, n := range names {
		if n == s {
			return T(i), true
		}
	}
	return none, false
}
