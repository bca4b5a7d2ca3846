package field

import (
	"fmt"
	"io"
	"math/big"
)

// Log, exponential and inverse tables for GF(2⁸) with the AES reduction
// polynomial x⁸+x⁴+x³+x+1.
var (
	gf256Exp [256]byte
	gf256Log [256]byte
	gf256Inv [256]byte
)

func init() {
	a := 1
	for c := 0; c < 255; c++ {
		a &= 0xff
		gf256Exp[c] = byte(a)
		d := a & 0x80
		a <<= 1
		if d == 0x80 {
			a ^= 0x1b
		}
		a ^= int(gf256Exp[c])
		gf256Log[gf256Exp[c]] = byte(c)
	}
	gf256Exp[255] = gf256Exp[0]
	gf256Log[0] = 0
	for c := 1; c < 256; c++ {
		gf256Inv[c] = gf256Exp[255-int(gf256Log[c])]
	}
}

type gf256Field struct{}

// GF256 returns the field GF(2⁸). Addition and subtraction both coincide
// with XOR.
func GF256() Field { return gf256Field{} }

func (gf256Field) Name() string             { return "GF(2^8)" }
func (gf256Field) Modulus() *big.Int        { return big.NewInt(256) }
func (gf256Field) BitLen() int              { return 9 }
func (gf256Field) Element(v uint64) Element { return gf256Element(v % 256) }

func (f gf256Field) FromBig(v *big.Int) Element {
	return gf256Element(new(big.Int).Mod(v, f.Modulus()).Uint64())
}

func (gf256Field) FromBytes(data []byte) (Element, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("field: GF(2^8): element must be 1 byte, got %d", len(data))
	}
	return gf256Element(data[0]), nil
}

func (gf256Field) Random(rand io.Reader) Element {
	var buf [1]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		panic(fmt.Sprintf("field: GF(2^8): sampling failed: %v", err))
	}
	return gf256Element(buf[0])
}

func (gf256Field) Zero() Element { return gf256Element(0) }
func (gf256Field) One() Element  { return gf256Element(1) }

type gf256Element byte

func (gf256Element) Field() Field { return gf256Field{} }

func (e gf256Element) other(x Element) gf256Element {
	o, ok := x.(gf256Element)
	if !ok {
		panic(fmt.Sprintf("field: mixing GF(2^8) with %s", x.Field().Name()))
	}
	return o
}

func (e gf256Element) Add(x Element) Element { return e ^ e.other(x) }
func (e gf256Element) Sub(x Element) Element { return e ^ e.other(x) }

func (e gf256Element) Mul(x Element) Element {
	o := e.other(x)
	if e == 0 || o == 0 {
		return gf256Element(0)
	}
	logProduct := (int(gf256Log[e]) + int(gf256Log[o])) % 255
	return gf256Element(gf256Exp[logProduct])
}

func (e gf256Element) Neg() Element { return e }

func (e gf256Element) Invert() (Element, error) {
	if e == 0 {
		return nil, ErrDivByZero
	}
	return gf256Element(gf256Inv[e]), nil
}

func (e gf256Element) Exp(exp *big.Int) Element {
	if exp.Sign() < 0 {
		panic("field: negative exponent")
	}
	if e == 0 {
		if exp.Sign() == 0 {
			return gf256Element(1)
		}
		return gf256Element(0)
	}
	// a^e = exp(log(a)·e mod 255) for a ≠ 0.
	l := new(big.Int).Mul(big.NewInt(int64(gf256Log[e])), exp)
	l.Mod(l, big.NewInt(255))
	return gf256Element(gf256Exp[l.Uint64()])
}

func (e gf256Element) Sqrt() Element {
	panic("field: GF(2^8) has no Sqrt")
}

func (e gf256Element) Equal(x Element) bool { return e == e.other(x) }

func (e gf256Element) Cmp(x Element) int {
	o := e.other(x)
	switch {
	case e < o:
		return -1
	case e > o:
		return 1
	default:
		return 0
	}
}

func (e gf256Element) IsZero() bool   { return e == 0 }
func (e gf256Element) Bit(i int) uint { return uint(e>>i) & 1 }
func (e gf256Element) Big() *big.Int  { return big.NewInt(int64(e)) }
func (e gf256Element) Bytes() []byte  { return []byte{byte(e)} }
func (e gf256Element) String() string { return fmt.Sprintf("[%d]", byte(e)) }
