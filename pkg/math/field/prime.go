package field

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
)

const maxSampleIterations = 255

// Prime is the field ℤₚ for an odd prime p. A Prime is safe for
// concurrent use: one field value is shared between the runtime's event
// loop, protocol goroutines and the program.
type Prime struct {
	name string
	mod  *saferith.Modulus
	// modBig mirrors mod for range checks. saferith comparisons resize
	// their operands' limb slices, so the shared mod must never be a
	// comparison operand.
	modBig  *big.Int
	byteLen int
	// sqrtExp is (p+1)/4 when p is a Blum prime, nil otherwise.
	sqrtExp *saferith.Nat
}

// NewPrime creates the field ℤₚ. The modulus must be an odd prime; a
// composite or even modulus is rejected.
func NewPrime(modulus *big.Int) (*Prime, error) {
	if modulus.Sign() <= 0 || modulus.Bit(0) == 0 || !modulus.ProbablyPrime(20) {
		return nil, fmt.Errorf("field: %v is not an odd prime", modulus)
	}
	f := &Prime{
		name:    fmt.Sprintf("GF(%v)", modulus),
		mod:     saferith.ModulusFromNat(new(saferith.Nat).SetBig(modulus, modulus.BitLen())),
		modBig:  new(big.Int).Set(modulus),
		byteLen: (modulus.BitLen() + 7) / 8,
	}
	if new(big.Int).Mod(modulus, big.NewInt(4)).Cmp(big.NewInt(3)) == 0 {
		// p ≡ 3 (mod 4): square roots are x^((p+1)/4).
		e := new(big.Int).Add(modulus, big.NewInt(1))
		e.Rsh(e, 2)
		f.sqrtExp = new(saferith.Nat).SetBig(e, e.BitLen())
	}
	return f, nil
}

// MustPrime is NewPrime for moduli known to be prime.
func MustPrime(modulus *big.Int) *Prime {
	f, err := NewPrime(modulus)
	if err != nil {
		panic(err)
	}
	return f
}

// IsBlum reports whether p ≡ 3 (mod 4), the precondition for Sqrt.
func (f *Prime) IsBlum() bool { return f.sqrtExp != nil }

func (f *Prime) Name() string      { return f.name }
func (f *Prime) Modulus() *big.Int { return new(big.Int).Set(f.modBig) }
func (f *Prime) BitLen() int       { return f.modBig.BitLen() }

func (f *Prime) Element(v uint64) Element {
	return f.FromBig(new(big.Int).SetUint64(v))
}

func (f *Prime) FromBig(v *big.Int) Element {
	r := new(big.Int).Mod(v, f.modBig)
	return f.element(new(saferith.Nat).SetBig(r, f.modBig.BitLen()))
}

func (f *Prime) FromBytes(data []byte) (Element, error) {
	if len(data) != f.byteLen {
		return nil, fmt.Errorf("field: %s: element must be %d bytes, got %d", f.name, f.byteLen, len(data))
	}
	if new(big.Int).SetBytes(data).Cmp(f.modBig) >= 0 {
		return nil, fmt.Errorf("field: %s: value out of range", f.name)
	}
	return f.element(new(saferith.Nat).SetBytes(data)), nil
}

func (f *Prime) Random(rand io.Reader) Element {
	buf := make([]byte, f.byteLen)
	v := new(big.Int)
	for i := 0; i < maxSampleIterations; i++ {
		if _, err := io.ReadFull(rand, buf); err != nil {
			continue
		}
		// Mask excess high bits so rejection succeeds quickly.
		if excess := 8*f.byteLen - f.modBig.BitLen(); excess > 0 {
			buf[0] &= 0xff >> excess
		}
		if v.SetBytes(buf).Cmp(f.modBig) < 0 {
			return f.element(new(saferith.Nat).SetBytes(buf))
		}
	}
	panic(fmt.Sprintf("field: failed to sample from %s after %d iterations", f.name, maxSampleIterations))
}

func (f *Prime) Zero() Element { return f.Element(0) }
func (f *Prime) One() Element  { return f.Element(1) }

func (f *Prime) element(n *saferith.Nat) *primeElement {
	return &primeElement{field: f, nat: n}
}

type primeElement struct {
	field *Prime
	nat   *saferith.Nat
}

func (e *primeElement) Field() Field { return e.field }

// sameField asserts the invariant that both operands live in the same ℤₚ.
func (e *primeElement) sameField(other Element) *primeElement {
	o, ok := other.(*primeElement)
	if !ok || o.field.name != e.field.name {
		panic(fmt.Sprintf("field: mixing %s with %s", e.field.name, other.Field().Name()))
	}
	return o
}

func (e *primeElement) Add(other Element) Element {
	o := e.sameField(other)
	return e.field.element(new(saferith.Nat).ModAdd(e.nat, o.nat, e.field.mod))
}

func (e *primeElement) Sub(other Element) Element {
	o := e.sameField(other)
	return e.field.element(new(saferith.Nat).ModSub(e.nat, o.nat, e.field.mod))
}

func (e *primeElement) Mul(other Element) Element {
	o := e.sameField(other)
	return e.field.element(new(saferith.Nat).ModMul(e.nat, o.nat, e.field.mod))
}

func (e *primeElement) Neg() Element {
	return e.field.element(new(saferith.Nat).ModNeg(e.nat, e.field.mod))
}

func (e *primeElement) Invert() (Element, error) {
	if e.IsZero() {
		return nil, ErrDivByZero
	}
	return e.field.element(new(saferith.Nat).ModInverse(e.nat, e.field.mod)), nil
}

func (e *primeElement) Exp(exp *big.Int) Element {
	if exp.Sign() < 0 {
		panic("field: negative exponent")
	}
	eNat := new(saferith.Nat).SetBig(exp, exp.BitLen())
	return e.field.element(new(saferith.Nat).Exp(e.nat, eNat, e.field.mod))
}

// Sqrt returns a square root of e. No attempt is made to return the
// principal root. Panics unless p is a Blum prime.
func (e *primeElement) Sqrt() Element {
	if e.field.sqrtExp == nil {
		panic(fmt.Sprintf("field: %s is not a Blum prime, cannot take square roots", e.field.name))
	}
	return e.field.element(new(saferith.Nat).Exp(e.nat, e.field.sqrtExp, e.field.mod))
}

// Equal compares fixed-width encodings. Elements are shared between
// goroutines, and saferith's Eq resizes its operands.
func (e *primeElement) Equal(other Element) bool {
	o := e.sameField(other)
	return bytes.Equal(e.Bytes(), o.Bytes())
}

func (e *primeElement) Cmp(other Element) int {
	o := e.sameField(other)
	return e.Big().Cmp(o.Big())
}

func (e *primeElement) IsZero() bool {
	return e.nat.EqZero() == 1
}

func (e *primeElement) Bit(i int) uint {
	return e.Big().Bit(i)
}

func (e *primeElement) Big() *big.Int { return e.nat.Big() }

func (e *primeElement) Bytes() []byte {
	out := make([]byte, e.field.byteLen)
	e.nat.FillBytes(out)
	return out
}

func (e *primeElement) String() string {
	return fmt.Sprintf("{%v}", e.nat.Big())
}
