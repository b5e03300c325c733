package math

import (
	"strings"

	"github.com/holiman/uint256"
)

// Signed is a sign-magnitude fixed-point value. Zero is never negative.
type Signed struct {
	Abs uint256.Int
	Neg bool
}

func NewSigned(abs uint256.Int, neg bool) Signed {
	if abs.IsZero() {
		neg = false
	}
	return Signed{Abs: abs, Neg: neg}
}

func (s Signed) IsZero() bool { return s.Abs.IsZero() }

// AddUnsigned returns s + v.
func (s Signed) AddUnsigned(v uint256.Int) (Signed, error) {
	if !s.Neg {
		abs, err := Add(s.Abs, v)
		if err != nil {
			return s, err
		}
		return NewSigned(abs, false), nil
	}
	if s.Abs.Gt(&v) {
		abs, _ := Sub(s.Abs, v)
		return NewSigned(abs, true), nil
	}
	abs, _ := Sub(v, s.Abs)
	return NewSigned(abs, false), nil
}

// SubUnsigned returns s - v.
func (s Signed) SubUnsigned(v uint256.Int) (Signed, error) {
	if s.Neg {
		abs, err := Add(s.Abs, v)
		if err != nil {
			return s, err
		}
		return NewSigned(abs, true), nil
	}
	if !v.Gt(&s.Abs) {
		abs, _ := Sub(s.Abs, v)
		return NewSigned(abs, false), nil
	}
	abs, _ := Sub(v, s.Abs)
	return NewSigned(abs, true), nil
}

// Add returns s + o.
func (s Signed) Add(o Signed) (Signed, error) {
	if o.Neg {
		return s.SubUnsigned(o.Abs)
	}
	return s.AddUnsigned(o.Abs)
}

func (s Signed) String() string {
	if s.Neg {
		return "-" + s.Abs.Dec()
	}
	return s.Abs.Dec()
}

// ParseSigned parses the output of Signed.String.
func ParseSigned(str string) (Signed, error) {
	neg := strings.HasPrefix(str, "-")
	abs, err := ParseUint(strings.TrimPrefix(str, "-"))
	if err != nil {
		return Signed{}, err
	}
	return NewSigned(abs, neg), nil
}
