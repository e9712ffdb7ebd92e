package dataset

import (
	"math"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
)

// Kind names the placeholder family a column resolves to.
type Kind string

const (
	KindSurname Kind = "surname"
	KindName    Kind = "name"
	KindSalary  Kind = "salary"
	KindAge     Kind = "age"
	KindHeight  Kind = "height"
	KindWeight  Kind = "weight"
	KindGender  Kind = "gender"
	KindText    Kind = "text"
)

// Rule pairs a keyword predicate with the value family it selects.
type Rule struct {
	Kind     Kind
	Keywords []string
}

// Matches reports whether the case-folded column name contains any keyword.
func (r Rule) Matches(folded string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// rules is evaluated top to bottom; the first match wins. Surname precedes
// name because "surname" contains "name".
var rules = []Rule{
	{Kind: KindSurname, Keywords: []string{"surname", "фамилия"}},
	{Kind: KindName, Keywords: []string{"name", "имя"}},
	{Kind: KindSalary, Keywords: []string{"salary", "зарплата"}},
	{Kind: KindAge, Keywords: []string{"age", "возраст"}},
	{Kind: KindHeight, Keywords: []string{"height", "рост"}},
	{Kind: KindWeight, Keywords: []string{"weight", "вес"}},
	{Kind: KindGender, Keywords: []string{"gender", "пол"}},
}

// Rules returns the ordered placeholder dispatch table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify resolves a column name to its placeholder kind. Names matching
// no rule are KindText.
func Classify(column string) Kind {
	folded := cases.Fold().String(column)
	for _, r := range rules {
		if r.Matches(folded) {
			return r.Kind
		}
	}
	return KindText
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator produces plausible synthetic cell values without consulting
// the model. A Generator is not safe for concurrent use unless it was
// built with a nil source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator drawing from src. A nil src uses the
// process-wide random source, which is safe for concurrent use.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		return &Generator{}
	}
	return &Generator{rng: rand.New(src)}
}

// Value returns a random value suited to the column name.
func (g *Generator) Value(column string) Value {
	switch Classify(column) {
	case KindSurname:
		return surnames[g.intN(len(surnames))]
	case KindName:
		return firstNames[g.intN(len(firstNames))]
	case KindSalary:
		return int64(30000 + g.intN(200000-30000+1))
	case KindAge:
		return int64(18 + g.intN(70-18+1))
	case KindHeight:
		return round1(150 + g.float64()*50)
	case KindWeight:
		return round1(50 + g.float64()*70)
	case KindGender:
		return []string{"M", "F"}[g.intN(2)]
	default:
		n := 4 + g.intN(10-4+1)
		var b strings.Builder
		b.Grow(n)
		for range n {
			b.WriteByte(letters[g.intN(len(letters))])
		}
		return b.String()
	}
}

func (g *Generator) intN(n int) int {
	if g.rng == nil {
		return rand.IntN(n)
	}
	return g.rng.IntN(n)
}

func (g *Generator) float64() float64 {
	if g.rng == nil {
		return rand.Float64()
	}
	return g.rng.Float64()
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
