// Package field implements the finite fields the runtime computes in:
// prime fields ℤₚ backed by saferith, and GF(2⁸) backed by log/exp tables.
//
// Elements are immutable; every arithmetic operation returns a fresh
// element. Combining elements from two different fields is a programming
// error and panics.
package field

import (
	"errors"
	"io"
	"math/big"
)

// ErrDivByZero is returned when inverting the additive identity.
var ErrDivByZero = errors.New("field: division by zero")

// Field describes a finite field and acts as the factory for its elements.
type Field interface {
	// Name identifies the field, e.g. "GF(1031)" or "GF(2^8)".
	Name() string
	// Modulus returns the field modulus (256 for GF(2⁸)).
	Modulus() *big.Int
	// BitLen is the bit length of the modulus.
	BitLen() int
	// Element embeds a small integer into the field, reducing mod p.
	Element(v uint64) Element
	// FromBig embeds an arbitrary integer into the field, reducing mod p.
	FromBig(v *big.Int) Element
	// FromBytes decodes the fixed-width big-endian encoding produced by
	// Element.Bytes. Values ≥ p are rejected.
	FromBytes(data []byte) (Element, error)
	// Random samples a uniform element using rejection sampling.
	Random(rand io.Reader) Element
	// Zero and One are the additive and multiplicative identities.
	Zero() Element
	One() Element
}

// Element is a single field element.
//
// The binary operations panic when the operand belongs to a different
// field; that is a bug in the calling protocol, not a runtime condition.
type Element interface {
	Field() Field
	Add(Element) Element
	Sub(Element) Element
	Mul(Element) Element
	Neg() Element
	// Invert returns the multiplicative inverse, or ErrDivByZero for zero.
	Invert() (Element, error)
	// Exp raises the element to a non-negative public exponent.
	Exp(e *big.Int) Element
	// Sqrt returns a square root of the element. Defined only for prime
	// fields with p ≡ 3 (mod 4); other fields panic.
	Sqrt() Element
	Equal(Element) bool
	// Cmp orders elements by their numeric value in [0, p).
	Cmp(Element) int
	IsZero() bool
	// Bit extracts bit i of the numeric value, counted from zero.
	Bit(i int) uint
	// Big returns the numeric value as a fresh big.Int.
	Big() *big.Int
	// Bytes is the fixed-width big-endian encoding used on the wire.
	Bytes() []byte
	String() string
}

// Div returns a/b, failing with ErrDivByZero when b is zero.
func Div(a, b Element) (Element, error) {
	bInv, err := b.Invert()
	if err != nil {
		return nil, err
	}
	return a.Mul(bInv), nil
}

// Equal reports whether two fields are the same field.
func Equal(a, b Field) bool {
	return a.Name() == b.Name()
}
