// Package checkout suggests finishing dart sequences for a remaining score.
package checkout

import (
	"strconv"

	"github.com/dartcounter/dartcounter/internal/match"
)

// Suggest returns the canonical checkout sequence for the exact remaining
// score under the given rule, or false when the score is outside the
// table's domain, has no finish, or needs more darts than remain.
func Suggest(score, dartsRemaining int, rule match.CheckoutRule) ([]string, bool) {
	var table map[int][]string
	if rule == match.RuleTripleOut {
		table = tripleOutTable
	} else {
		table = doubleOutTable
	}

	seq, ok := table[score]
	if !ok || len(seq) > dartsRemaining {
		return nil, false
	}
	out := make([]string, len(seq))
	copy(out, seq)
	return out, true
}

// doubleOutTable is the standard double-out checkout chart, 2..170. The
// seven scores with no three-dart finish (159, 162, 163, 165, 166, 168,
// 169) have no entry.
var doubleOutTable = map[int][]string{
	170: {"T20", "T20", "D25"},
	167: {"T20", "T19", "D25"},
	164: {"T20", "T18", "D25"},
	161: {"T20", "T17", "D25"},
	160: {"T20", "T20", "D20"},
	158: {"T20", "T20", "D19"},
	157: {"T20", "T19", "D20"},
	156: {"T20", "T20", "D18"},
	155: {"T20", "T19", "D19"},
	154: {"T20", "T18", "D20"},
	153: {"T20", "T19", "D18"},
	152: {"T20", "T20", "D16"},
	151: {"T20", "T17", "D20"},
	150: {"T20", "T18", "D18"},
	149: {"T20", "T19", "D16"},
	148: {"T20", "T16", "D20"},
	147: {"T20", "T17", "D18"},
	146: {"T20", "T18", "D16"},
	145: {"T20", "T15", "D20"},
	144: {"T20", "T20", "D12"},
	143: {"T20", "T17", "D16"},
	142: {"T20", "T14", "D20"},
	141: {"T20", "T19", "D12"},
	140: {"T20", "T20", "D10"},
	139: {"T20", "T13", "D20"},
	138: {"T20", "T18", "D12"},
	137: {"T20", "T19", "D10"},
	136: {"T20", "T20", "D8"},
	135: {"T20", "T17", "D12"},
	134: {"T20", "T14", "D16"},
	133: {"T20", "T19", "D8"},
	132: {"T20", "T16", "D12"},
	131: {"T20", "T13", "D16"},
	130: {"T20", "T18", "D8"},
	129: {"T19", "T16", "D12"},
	128: {"T18", "T14", "D16"},
	127: {"T20", "T17", "D8"},
	126: {"T19", "T19", "D6"},
	125: {"25", "T20", "D20"},
	124: {"T20", "T16", "D8"},
	123: {"T19", "T16", "D9"},
	122: {"T18", "T18", "D7"},
	121: {"T20", "T11", "D14"},
	120: {"T20", "20", "D20"},
	119: {"T19", "T12", "D13"},
	118: {"T20", "18", "D20"},
	117: {"T20", "17", "D20"},
	116: {"T20", "16", "D20"},
	115: {"T20", "15", "D20"},
	114: {"T20", "14", "D20"},
	113: {"T20", "13", "D20"},
	112: {"T20", "12", "D20"},
	111: {"T20", "11", "D20"},
	110: {"T20", "10", "D20"},
	109: {"T20", "9", "D20"},
	108: {"T20", "8", "D20"},
	107: {"T19", "10", "D20"},
	106: {"T20", "6", "D20"},
	105: {"T20", "5", "D20"},
	104: {"T18", "10", "D20"},
	103: {"T19", "6", "D20"},
	102: {"T20", "2", "D20"},
	101: {"T17", "10", "D20"},
	100: {"T20", "D20"},
	99:  {"T19", "10", "D16"},
	98:  {"T20", "D19"},
	97:  {"T19", "D20"},
	96:  {"T20", "D18"},
	95:  {"T19", "D19"},
	94:  {"T18", "D20"},
	93:  {"T19", "D18"},
	92:  {"T20", "D16"},
	91:  {"T17", "D20"},
	90:  {"T18", "D18"},
	89:  {"T19", "D16"},
	88:  {"T16", "D20"},
	87:  {"T17", "D18"},
	86:  {"T18", "D16"},
	85:  {"T15", "D20"},
	84:  {"T20", "D12"},
	83:  {"T17", "D16"},
	82:  {"T14", "D20"},
	81:  {"T19", "D12"},
	80:  {"T20", "D10"},
	79:  {"T13", "D20"},
	78:  {"T18", "D12"},
	77:  {"T19", "D10"},
	76:  {"T20", "D8"},
	75:  {"T17", "D12"},
	74:  {"T14", "D16"},
	73:  {"T19", "D8"},
	72:  {"T16", "D12"},
	71:  {"T13", "D16"},
	70:  {"T18", "D8"},
	69:  {"T19", "D6"},
	68:  {"T20", "D4"},
	67:  {"T17", "D8"},
	66:  {"T10", "D18"},
	65:  {"T19", "D4"},
	64:  {"T16", "D8"},
	63:  {"T13", "D12"},
	62:  {"T10", "D16"},
	61:  {"T15", "D8"},
	60:  {"20", "D20"},
	59:  {"19", "D20"},
	58:  {"18", "D20"},
	57:  {"17", "D20"},
	56:  {"16", "D20"},
	55:  {"15", "D20"},
	54:  {"14", "D20"},
	53:  {"13", "D20"},
	52:  {"12", "D20"},
	51:  {"11", "D20"},
	50:  {"D25"},
	49:  {"9", "D20"},
	48:  {"16", "D16"},
	47:  {"15", "D16"},
	46:  {"6", "D20"},
	45:  {"13", "D16"},
	44:  {"12", "D16"},
	43:  {"3", "D20"},
	42:  {"10", "D16"},
	41:  {"9", "D16"},
	40:  {"D20"},
	39:  {"7", "D16"},
	38:  {"D19"},
	37:  {"5", "D16"},
	36:  {"D18"},
	35:  {"3", "D16"},
	34:  {"D17"},
	33:  {"1", "D16"},
	32:  {"D16"},
	31:  {"15", "D8"},
	30:  {"D15"},
	29:  {"13", "D8"},
	28:  {"D14"},
	27:  {"11", "D8"},
	26:  {"D13"},
	25:  {"17", "D4"},
	24:  {"D12"},
	23:  {"7", "D8"},
	22:  {"D11"},
	21:  {"5", "D8"},
	20:  {"D10"},
	19:  {"3", "D8"},
	18:  {"D9"},
	17:  {"1", "D8"},
	16:  {"D8"},
	15:  {"7", "D4"},
	14:  {"D7"},
	13:  {"5", "D4"},
	12:  {"D6"},
	11:  {"3", "D4"},
	10:  {"D5"},
	9:   {"1", "D4"},
	8:   {"D4"},
	7:   {"3", "D2"},
	6:   {"D3"},
	5:   {"1", "D2"},
	4:   {"D2"},
	3:   {"1", "D1"},
	2:   {"D1"},
}

// tripleOutTable covers 3..180. No published chart exists for triple-out,
// so the table is built deterministically: shortest sequence first, then
// the highest finishing triple, then setup darts in a fixed preference
// order (triples high to low, bull, singles, doubles).
var tripleOutTable = buildTripleOutTable()

type tableDart struct {
	points int
	label  string
}

func buildTripleOutTable() map[int][]string {
	finishes := make([]tableDart, 0, 20)
	for n := 20; n >= 1; n-- {
		finishes = append(finishes, tableDart{points: n * 3, label: "T" + strconv.Itoa(n)})
	}

	setups := make([]tableDart, 0, 62)
	for n := 20; n >= 1; n-- {
		setups = append(setups, tableDart{points: n * 3, label: "T" + strconv.Itoa(n)})
	}
	setups = append(setups, tableDart{points: 50, label: "D25"}, tableDart{points: 25, label: "25"})
	for n := 20; n >= 1; n-- {
		setups = append(setups, tableDart{points: n, label: strconv.Itoa(n)})
	}
	for n := 20; n >= 1; n-- {
		setups = append(setups, tableDart{points: n * 2, label: "D" + strconv.Itoa(n)})
	}

	table := make(map[int][]string, 178)
	for score := 3; score <= 180; score++ {
		if seq := tripleOutSequence(score, finishes, setups); seq != nil {
			table[score] = seq
		}
	}
	return table
}

func tripleOutSequence(score int, finishes, setups []tableDart) []string {
	// One dart.
	if score%3 == 0 && score/3 <= 20 {
		return []string{"T" + strconv.Itoa(score/3)}
	}
	// Two darts.
	for _, f := range finishes {
		rest := score - f.points
		if rest <= 0 {
			continue
		}
		if s, ok := setupLabel(rest); ok {
			return []string{s, f.label}
		}
	}
	// Three darts.
	for _, f := range finishes {
		rest := score - f.points
		if rest <= 0 {
			continue
		}
		for _, s1 := range setups {
			rest2 := rest - s1.points
			if rest2 <= 0 {
				continue
			}
			if s2, ok := setupLabel(rest2); ok {
				return []string{s1.label, s2, f.label}
			}
		}
	}
	return nil
}

// setupLabel renders a point value as a single non-finishing dart, using
// the same precedence DartFromPoints uses for legacy inputs.
func setupLabel(points int) (string, bool) {
	switch {
	case points == 50:
		return "D25", true
	case points == 25:
		return "25", true
	case points >= 1 && points <= 20:
		return strconv.Itoa(points), true
	case points%3 == 0 && points/3 <= 20:
		return "T" + strconv.Itoa(points/3), true
	case points%2 == 0 && points/2 <= 20:
		return "D" + strconv.Itoa(points/2), true
	}
	return "", false
}
