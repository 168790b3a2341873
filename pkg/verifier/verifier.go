// Package verifier checks a decoded module for instructions that would
// fault when executed, before any thread runs.
package verifier

import (
	"errors"
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
)

var (
	ErrArity          = errors.New("call arity mismatch")
	ErrDiscardSource  = errors.New("discard register used as a source")
	ErrBitCompare     = errors.New("ordered comparison on a bit type")
	ErrBadTarget      = errors.New("branch target out of range")
	ErrUnsupported    = errors.New("unsupported type for instruction")
	ErrNotImplemented = errors.New("instruction not implemented")
	ErrUnreachable    = errors.New("unreachable instruction")
)

// Severity grades an issue. Errors fault at runtime; warnings do not.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Issue is one finding.
type Issue struct {
	Severity Severity
	Func     string
	PC       int
	Location string
	Err      error
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s: %v", i.Location, i.Severity, i.Func, i.Err)
}

// Verifier runs the enabled checks over a module.
type Verifier struct {
	enableCalls       bool
	enableDiscard     bool
	enableCompare     bool
	enableBranches    bool
	enableTypes       bool
	enableUnreachable bool
}

// Option is a functional option for the Verifier.
type Option func(*Verifier)

// WithCalls enables call arity checks.
func WithCalls() Option {
	return func(v *Verifier) {
		v.enableCalls = true
	}
}

// WithDiscard enables checks for reads of the discard register.
func WithDiscard() Option {
	return func(v *Verifier) {
		v.enableDiscard = true
	}
}

// WithCompare enables comparison operator checks.
func WithCompare() Option {
	return func(v *Verifier) {
		v.enableCompare = true
	}
}

// WithBranches enables branch target checks.
func WithBranches() Option {
	return func(v *Verifier) {
		v.enableBranches = true
	}
}

// WithTypes enables opcode/type checks.
func WithTypes() Option {
	return func(v *Verifier) {
		v.enableTypes = true
	}
}

// WithUnreachable enables warnings for code no path reaches.
func WithUnreachable() Option {
	return func(v *Verifier) {
		v.enableUnreachable = true
	}
}

// WithAllChecks enables every check.
func WithAllChecks() Option {
	return func(v *Verifier) {
		v.enableCalls = true
		v.enableDiscard = true
		v.enableCompare = true
		v.enableBranches = true
		v.enableTypes = true
		v.enableUnreachable = true
	}
}

// New creates a Verifier with the given options.
func New(opts ...Option) *Verifier {
	v := &Verifier{}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify returns the issues found in m, ordered by function and pc.
func (v *Verifier) Verify(m *isa.Module) []Issue {
	var issues []Issue
	for _, fn := range m.Functions {
		report := func(sev Severity, inst *isa.Instruction, err error) {
			issues = append(issues, Issue{
				Severity: sev,
				Func:     fn.Name,
				PC:       inst.PC,
				Location: inst.Location(),
				Err:      err,
			})
		}
		for pc := fn.Start; pc < fn.End; pc++ {
			inst := m.Code[pc]
			if v.enableCalls {
				if err := checkCall(inst); err != nil {
					report(Error, inst, err)
				}
			}
			if v.enableDiscard {
				if err := checkDiscard(inst); err != nil {
					report(Error, inst, err)
				}
			}
			if v.enableCompare {
				if err := checkCompare(inst); err != nil {
					report(Error, inst, err)
				}
			}
			if v.enableBranches {
				for _, err := range checkTargets(m, fn, inst) {
					report(Error, inst, err)
				}
			}
			if v.enableTypes {
				if err := checkType(inst); err != nil {
					report(Error, inst, err)
				}
			}
		}
		if v.enableUnreachable {
			for _, pc := range unreachable(m, fn) {
				report(Warning, m.Code[pc], ErrUnreachable)
			}
		}
	}
	return issues
}

// Err joins the error-severity issues, or returns nil when there are none.
func Err(issues []Issue) error {
	var errs []error
	for _, i := range issues {
		if i.Severity == Error {
			errs = append(errs, fmt.Errorf("%s: %w", i.Location, i.Err))
		}
	}
	return errors.Join(errs...)
}
