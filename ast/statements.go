package ast

// Requirements is the sum type of a predicate's verdict clause: either a
// Requires(conditions, where?) or a Denies(reason?).
type Requirements interface {
	requirements()
}

// Requires compiles to an AND over Conditions (and Where, if present); the
// resulting Bool is the predicate's verdict.
type Requires struct {
	Conditions []Expression
	Where      []Expression
}

func (*Requires) requirements() {}

// Denies unconditionally votes Deny whenever its predicate's triggers match.
type Denies struct {
	Reason *string
}

func (*Denies) requirements() {}

// Predicate is one named declarative rule: a trigger condition set gating
// whether it applies, and a Requirements clause deciding its vote.
type Predicate struct {
	Span
	Name         string
	Intent       string
	Triggers     []Expression
	Requirements Requirements
	Metadata     map[string]string
}
