package fairness

import "fmt"

// InsufficientDataError indicates a required group/outcome combination
// has no observations. Compute returns it only when the whole
// computation is impossible (no records, or every record rejected);
// per-group gaps degrade to undefined rates instead.
type InsufficientDataError struct {
	Attribute string
	Group     GroupKey
	Outcome   string
}

func (e *InsufficientDataError) Error() string {
	switch {
	case e.Group != "" && e.Outcome != "":
		return fmt.Sprintf("insufficient data: group %q has no %s observations for attribute %q", e.Group, e.Outcome, e.Attribute)
	case e.Group != "":
		return fmt.Sprintf("insufficient data: group %q has no observations for attribute %q", e.Group, e.Attribute)
	default:
		return fmt.Sprintf("insufficient data for attribute %q", e.Attribute)
	}
}

// DomainMismatchError indicates transform-time data outside the domain
// seen during fit. It is fatal for the individual record only; batch
// transforms collect these and continue.
type DomainMismatchError struct {
	Field string
	Value string
}

func (e *DomainMismatchError) Error() string {
	return fmt.Sprintf("domain mismatch: %s %q was not seen during fit", e.Field, e.Value)
}

// InfeasibleConstraintError indicates no mitigation parameter in [0,1]
// satisfies the target parity within tolerance. Returned only in strict
// mode; otherwise the closest approximation is kept and flagged.
type InfeasibleConstraintError struct {
	Group      GroupKey
	Constraint string
	Target     float64
	Achieved   float64
	Tolerance  float64
}

func (e *InfeasibleConstraintError) Error() string {
	return fmt.Sprintf("infeasible %s constraint for group %q: target %.4f, closest %.4f, tolerance %.4f",
		e.Constraint, e.Group, e.Target, e.Achieved, e.Tolerance)
}
