package domain

import (
	"fmt"
	"strings"
)

// Verdict is the judging status of a submission or of a single test
// result. The numeric values are carried on the wire and stored in the
// database, so they must never be renumbered.
type Verdict uint8

const (
	Waiting             Verdict = 0x00
	Running             Verdict = 0x01
	Accepted            Verdict = 0x10
	CompilationError    Verdict = 0x20
	RuntimeError        Verdict = 0x21
	WrongAnswer         Verdict = 0x22
	MemoryLimitExceeded Verdict = 0x30
	TimeLimitExceeded   Verdict = 0x31
	OutputLimitExceeded Verdict = 0x32
	InternalError       Verdict = 0xFF
)

var verdictNames = map[Verdict]string{
	Waiting:             "Waiting",
	Running:             "Running",
	Accepted:            "Accepted",
	CompilationError:    "CompilationError",
	RuntimeError:        "RuntimeError",
	WrongAnswer:         "WrongAnswer",
	MemoryLimitExceeded: "MemoryLimitExceeded",
	TimeLimitExceeded:   "TimeLimitExceeded",
	OutputLimitExceeded: "OutputLimitExceeded",
	InternalError:       "InternalError",
}

// String returns the canonical enum name, or a hex placeholder for
// values outside the enumeration.
func (v Verdict) String() string {
	if s, ok := verdictNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Verdict(0x%02X)", uint8(v))
}

// Valid reports whether v is one of the enumerated verdicts.
func (v Verdict) Valid() bool {
	_, ok := verdictNames[v]
	return ok
}

// Final reports whether v is a terminal verdict (not Waiting/Running).
func (v Verdict) Final() bool {
	return v.Valid() && v != Waiting && v != Running
}

// ParseVerdict resolves a verdict by its enum name, case-insensitively.
// Agent error frames carry the name as a string.
func ParseVerdict(name string) (Verdict, error) {
	for v, s := range verdictNames {
		if strings.EqualFold(s, name) {
			return v, nil
		}
	}
	return InternalError, fmt.Errorf("op=verdict.parse: unknown verdict %q", name)
}

// aggregationPriority orders non-uniform test verdicts when computing
// the submission verdict. Accepted never wins a mixed set and
// CompilationError is decided before tests run, so neither appears.
var aggregationPriority = []Verdict{
	InternalError,
	RuntimeError,
	WrongAnswer,
	MemoryLimitExceeded,
	TimeLimitExceeded,
	OutputLimitExceeded,
}

// AggregateVerdicts folds per-test verdicts into a submission verdict.
// A uniform set yields its single member; otherwise the first priority
// member present wins. An empty or unrecognizable set yields
// InternalError.
func AggregateVerdicts(verdicts []Verdict) Verdict {
	if len(verdicts) == 0 {
		return InternalError
	}
	set := make(map[Verdict]struct{}, len(verdicts))
	for _, v := range verdicts {
		set[v] = struct{}{}
	}
	if len(set) == 1 {
		return verdicts[0]
	}
	for _, v := range aggregationPriority {
		if _, ok := set[v]; ok {
			return v
		}
	}
	return InternalError
}
