// Package adder turns a text payload of whitespace-separated numbers into
// their exact sum.
//
// Numbers are accumulated exactly as scaled big integers so that integer
// inputs always produce exact integer outputs, and decimal inputs produce
// exact decimal outputs (0.1 + 0.2 is "0.3").
package adder

import (
	"context"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/logging"
)

// Policy selects how tokens that are not numbers are handled.
type Policy int

const (
	// Strict aborts on the first token that is not a number.
	Strict Policy = iota
	// Lenient skips tokens that are not numbers and counts them.
	Lenient
)

func (p Policy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// numberPattern is the accepted addend grammar: optional sign, decimal digits
// with an optional fraction, optional exponent of at most four digits.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d{1,4})?$`)

// Result is the outcome of one aggregation.
type Result struct {
	Sum     *big.Rat
	Count   int // addends consumed
	Skipped int // tokens skipped under Lenient
}

// String formats the sum as a plain decimal: an integer when the sum is
// integral, otherwise the shortest exact decimal expansion.
func (r Result) String() string {
	return FormatDecimal(r.Sum)
}

// Bytes is the output document for r.
func (r Result) Bytes() []byte {
	return []byte(r.String())
}

// Adder sums addends under a fixed policy.
type Adder struct {
	Policy Policy
}

// New returns an Adder using policy.
func New(policy Policy) *Adder {
	return &Adder{Policy: policy}
}

// Summarize parses data and returns the sum of its addends. An empty payload
// is a zero sum, not an error. Under Strict, the first invalid token aborts
// with a KindParse error and no partial sum is returned. Skipped tokens are
// logged through the logger carried by ctx.
func (a *Adder) Summarize(ctx context.Context, data []byte) (Result, error) {
	var (
		acc accumulator
		res Result
	)
	for i, tok := range strings.Fields(string(data)) {
		d, ok := parseDecimal(tok)
		if !ok {
			if a.Policy == Strict {
				return Result{}, &jobutil.Error{
					Kind:     jobutil.KindParse,
					Op:       "aggregate",
					Token:    tok,
					Position: i + 1,
				}
			}
			logging.Ctx(ctx).Warn().Str("token", tok).Int("position", i+1).Msg("Skipping token that is not a number")
			res.Skipped++
			continue
		}
		acc.add(d)
		res.Count++
	}
	res.Sum = acc.rat()
	return res, nil
}

// ParseAddend converts one token to an exact rational. It reports false for
// anything outside the addend grammar, including hex, fractions, inf and nan.
func ParseAddend(tok string) (*big.Rat, bool) {
	d, ok := parseDecimal(tok)
	if !ok {
		return nil, false
	}
	var acc accumulator
	acc.add(d)
	return acc.rat(), true
}

// decimal is coef * 10^exp.
type decimal struct {
	coef *big.Int
	exp  int
}

func parseDecimal(tok string) (decimal, bool) {
	if !numberPattern.MatchString(tok) {
		return decimal{}, false
	}
	mant, exp := tok, 0
	if i := strings.IndexAny(mant, "eE"); i >= 0 {
		e, err := strconv.Atoi(mant[i+1:])
		if err != nil {
			return decimal{}, false
		}
		mant, exp = mant[:i], e
	}
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		exp -= len(mant) - i - 1
		mant = mant[:i] + mant[i+1:]
	}
	coef, ok := new(big.Int).SetString(mant, 10)
	if !ok {
		return decimal{}, false
	}
	return decimal{coef: coef, exp: exp}, true
}

// accumulator keeps a running sum as coef * 10^exp, rescaling only when an
// addend has a smaller exponent. Nothing is reduced until rat is called.
type accumulator struct {
	coef *big.Int
	exp  int
	pow  map[int]*big.Int
}

func (a *accumulator) add(d decimal) {
	if a.coef == nil {
		a.coef = new(big.Int)
	}
	if d.exp >= a.exp {
		if d.exp == a.exp {
			a.coef.Add(a.coef, d.coef)
			return
		}
		a.coef.Add(a.coef, new(big.Int).Mul(d.coef, a.pow10(d.exp-a.exp)))
		return
	}
	a.coef.Mul(a.coef, a.pow10(a.exp-d.exp))
	a.coef.Add(a.coef, d.coef)
	a.exp = d.exp
}

// rat returns the sum in lowest terms.
func (a *accumulator) rat() *big.Rat {
	if a.coef == nil {
		return new(big.Rat)
	}
	if a.exp >= 0 {
		return new(big.Rat).SetInt(new(big.Int).Mul(a.coef, a.pow10(a.exp)))
	}
	return new(big.Rat).SetFrac(a.coef, a.pow10(-a.exp))
}

func (a *accumulator) pow10(n int) *big.Int {
	if p, ok := a.pow[n]; ok {
		return p
	}
	if a.pow == nil {
		a.pow = make(map[int]*big.Int)
	}
	p := new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
	a.pow[n] = p
	return p
}

var (
	ten  = big.NewInt(10)
	five = big.NewInt(5)
)

// log2Of5 is used to estimate b from the bit length of 5^b.
const log2Of5 = 2.321928094887362

// FormatDecimal renders x without exponent or trailing zeros. x must have a
// finite decimal expansion, which holds for any sum of decimal literals;
// other values are rounded to 32 fractional digits.
func FormatDecimal(x *big.Rat) string {
	if x == nil {
		return "0"
	}
	if x.IsInt() {
		return x.Num().String()
	}
	digits, ok := decimalDigits(x.Denom())
	if !ok {
		return x.FloatString(32)
	}
	return x.FloatString(digits)
}

// decimalDigits returns the fewest fractional digits that represent n/denom
// exactly, given denom = 2^a * 5^b in lowest terms: max(a, b).
func decimalDigits(denom *big.Int) (int, bool) {
	a := int(denom.TrailingZeroBits())
	rem := new(big.Int).Rsh(denom, uint(a))
	if rem.Cmp(big.NewInt(1)) == 0 {
		return a, true
	}
	guess := int(float64(rem.BitLen()-1) / log2Of5)
	for b := guess; b <= guess+1; b++ {
		if b > 0 && new(big.Int).Exp(five, big.NewInt(int64(b)), nil).Cmp(rem) == 0 {
			return max(a, b), true
		}
	}
	return 0, false
}
