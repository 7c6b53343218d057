package match

import (
	"fmt"
	"strconv"
)

// CheckoutRule selects the finishing requirement for a leg.
type CheckoutRule string

const (
	// RuleDoubleOut requires the finishing dart to be a double (D25 counts).
	RuleDoubleOut CheckoutRule = "DOUBLE_OUT"
	// RuleTripleOut requires the finishing dart to be a triple.
	RuleTripleOut CheckoutRule = "TRIPLE_OUT"
)

// Outcome classifies the result of evaluating a single dart.
type Outcome int

const (
	OutcomeNormal Outcome = iota
	OutcomeBust
	OutcomeWin
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBust:
		return "BUST"
	case OutcomeWin:
		return "WIN"
	default:
		return "NORMAL"
	}
}

// Dart is a single throw: a board segment and a multiplier.
// The zero value is a miss.
type Dart struct {
	Base       int `json:"base"`
	Multiplier int `json:"multiplier"`
}

// NewDart validates and normalizes a raw dart input. A miss (base 0) forces
// multiplier 1 and the bull (base 25) admits no triple; both normalizations
// mirror how physical boards score, so they are applied silently rather than
// rejected.
func NewDart(base, multiplier int) (Dart, error) {
	if base < 0 || (base > 20 && base != 25) {
		return Dart{}, fmt.Errorf("%w: invalid segment %d", ErrValidation, base)
	}
	if multiplier < 1 || multiplier > 3 {
		return Dart{}, fmt.Errorf("%w: invalid multiplier %d", ErrValidation, multiplier)
	}
	if base == 0 {
		multiplier = 1
	}
	if base == 25 && multiplier == 3 {
		multiplier = 2
	}
	return Dart{Base: base, Multiplier: multiplier}, nil
}

// DartFromPoints maps a bare point value onto a canonical dart for clients
// that send precomputed points instead of base+multiplier. Values above 20
// are read as the highest-multiplier segment producing them: 50 is the bull
// double, multiples of three become triples, remaining even values doubles.
func DartFromPoints(points int) (Dart, error) {
	switch {
	case points == 0:
		return Dart{Base: 0, Multiplier: 1}, nil
	case points == 50:
		return Dart{Base: 25, Multiplier: 2}, nil
	case points == 25:
		return Dart{Base: 25, Multiplier: 1}, nil
	case points >= 1 && points <= 20:
		return Dart{Base: points, Multiplier: 1}, nil
	case points%3 == 0 && points/3 <= 20:
		return Dart{Base: points / 3, Multiplier: 3}, nil
	case points%2 == 0 && points/2 <= 20:
		return Dart{Base: points / 2, Multiplier: 2}, nil
	}
	return Dart{}, fmt.Errorf("%w: %d is not a reachable dart score", ErrValidation, points)
}

// Points returns the score of the dart. The bull double is 50.
func (d Dart) Points() int {
	return d.Base * d.Multiplier
}

// Label renders the dart in chart notation: Miss, 20, D20, T20, 25, D25.
func (d Dart) Label() string {
	if d.Base == 0 {
		return "Miss"
	}
	switch d.Multiplier {
	case 2:
		return "D" + strconv.Itoa(d.Base)
	case 3:
		return "T" + strconv.Itoa(d.Base)
	default:
		return strconv.Itoa(d.Base)
	}
}

// finishes reports whether the dart satisfies the rule's finishing
// requirement.
func (d Dart) finishes(rule CheckoutRule) bool {
	if rule == RuleTripleOut {
		return d.Multiplier == 3
	}
	return d.Multiplier == 2
}

// Evaluate scores a dart against the given remaining score and checkout rule.
// A dart that would leave a negative score, exactly 1, or zero without the
// required finishing multiplier is a bust; the caller is responsible for the
// turn-level rollback that a bust implies.
func Evaluate(score int, d Dart, rule CheckoutRule) (points int, outcome Outcome) {
	points = d.Points()
	remaining := score - points

	switch {
	case remaining < 0 || remaining == 1:
		return points, OutcomeBust
	case remaining == 0 && d.finishes(rule):
		return points, OutcomeWin
	case remaining == 0:
		// Reached zero on the wrong multiplier: treated like any bust.
		return points, OutcomeBust
	default:
		return points, OutcomeNormal
	}
}
