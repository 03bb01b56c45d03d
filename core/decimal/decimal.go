package decimal

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Scale is the number of fractional decimal digits carried by every amount.
const Scale = 18

var (
	ErrOverflow  = errors.New("decimal: overflow")
	ErrUnderflow = errors.New("decimal: underflow")
	ErrSyntax    = errors.New("decimal: invalid syntax")
)

var one = func() uint256.Int {
	var v uint256.Int
	v.Exp(uint256.NewInt(10), uint256.NewInt(Scale))
	return v
}()

// Decimal is a non-negative fixed-point number stored as an unsigned 256-bit
// integer scaled by 10^18. All operations are exact and return an error
// rather than wrapping.
type Decimal struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Decimal { return Decimal{} }

// FromUint64 returns n whole units.
func FromUint64(n uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(n), &one)
	return d
}

// FromAtto builds a decimal from its raw scaled representation.
func FromAtto(raw *uint256.Int) Decimal {
	var d Decimal
	if raw != nil {
		d.v.Set(raw)
	}
	return d
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Parse reads a plain decimal string such as "100", "0.25" or "12.000001".
func Parse(s string) (Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Decimal{}, fmt.Errorf("%w: empty amount", ErrSyntax)
	}
	intPart, fracPart, hasFrac := strings.Cut(trimmed, ".")
	if intPart == "" {
		intPart = "0"
	}
	if hasFrac && fracPart == "" {
		return Decimal{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if len(fracPart) > Scale {
		return Decimal{}, fmt.Errorf("%w: more than %d fractional digits in %q", ErrSyntax, Scale, s)
	}
	var d Decimal
	if err := accumulate(&d.v, intPart+fracPart+strings.Repeat("0", Scale-len(fracPart))); err != nil {
		return Decimal{}, fmt.Errorf("%w: %q", err, s)
	}
	return d, nil
}

func accumulate(z *uint256.Int, digits string) error {
	ten := uint256.NewInt(10)
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ErrSyntax
		}
		if _, overflow := z.MulOverflow(z, ten); overflow {
			return ErrOverflow
		}
		if _, overflow := z.AddOverflow(z, uint256.NewInt(uint64(r-'0'))); overflow {
			return ErrOverflow
		}
	}
	return nil
}

// Atto returns a copy of the raw scaled integer.
func (d Decimal) Atto() *uint256.Int {
	return new(uint256.Int).Set(&d.v)
}

func (d Decimal) IsZero() bool { return d.v.IsZero() }

func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(&o.v) }

func (d Decimal) Equal(o Decimal) bool { return d.v.Eq(&o.v) }

// Add returns d+o or ErrOverflow.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// Sub returns d-o or ErrUnderflow when o > d.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var out Decimal
	if _, underflow := out.v.SubOverflow(&d.v, &o.v); underflow {
		return Decimal{}, ErrUnderflow
	}
	return out, nil
}

// RespectsDivisibility reports whether d has no more than divisibility
// fractional digits.
func (d Decimal) RespectsDivisibility(divisibility uint8) bool {
	if divisibility >= Scale {
		return true
	}
	var unit, rem uint256.Int
	unit.Exp(uint256.NewInt(10), uint256.NewInt(uint64(Scale-divisibility)))
	rem.Mod(&d.v, &unit)
	return rem.IsZero()
}

// String renders the shortest exact decimal form ("12.5", "0", "3").
func (d Decimal) String() string {
	var whole, frac uint256.Int
	whole.Div(&d.v, &one)
	frac.Mod(&d.v, &one)
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := frac.Dec()
	digits = strings.Repeat("0", Scale-len(digits)) + digits
	return whole.Dec() + "." + strings.TrimRight(digits, "0")
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// EncodeRLP encodes the raw scaled integer as an rlp big integer.
func (d Decimal) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, d.v.ToBig())
}

func (d *Decimal) DecodeRLP(s *rlp.Stream) error {
	raw, err := s.BigInt()
	if err != nil {
		return err
	}
	return d.setBig(raw)
}

func (d *Decimal) setBig(raw *big.Int) error {
	if raw.Sign() < 0 {
		return ErrUnderflow
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return ErrOverflow
	}
	d.v.Set(v)
	return nil
}
