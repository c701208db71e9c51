package contract

import (
	"fmt"
	"math"
)

// Tag is the discriminant of a Number.
type Tag uint8

const (
	TagInteger Tag = 0
	TagFloat   Tag = 1
)

func (t Tag) String() string {
	switch t {
	case TagInteger:
		return "integer"
	case TagFloat:
		return "float"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Number is a tagged value: either an Integer or a Float. The interface is
// sealed; no other implementations exist.
type Number interface {
	Tag() Tag
	fmt.Stringer
	sealed()
}

// Integer is the integer case of Number.
type Integer int32

// Float is the float case of Number.
type Float float32

func (Integer) Tag() Tag { return TagInteger }
func (Float) Tag() Tag   { return TagFloat }

func (i Integer) String() string { return fmt.Sprintf("Number::Integer(%d)", int32(i)) }
func (f Float) String() string   { return fmt.Sprintf("Number::Float(%f)", float32(f)) }

func (Integer) sealed() {}
func (Float) sealed()   {}

// MatchNumber calls exactly one of the handlers, chosen by n's case. Both
// handlers are required, so a caller cannot forget a case.
func MatchNumber[R any](n Number, integer func(int32) R, float func(float32) R) R {
	switch v := n.(type) {
	case Integer:
		return integer(int32(v))
	case Float:
		return float(float32(v))
	}
	panic(fmt.Sprintf("contract: unknown Number implementation %T", n))
}

// NumberBits returns the discriminant and raw payload bits of n.
func NumberBits(n Number) (Tag, uint64) {
	switch v := n.(type) {
	case Integer:
		return TagInteger, uint64(uint32(v))
	case Float:
		return TagFloat, uint64(math.Float32bits(float32(v)))
	}
	panic(fmt.Sprintf("contract: unknown Number implementation %T", n))
}

// NumberFromBits rebuilds a Number from a discriminant and payload bits.
func NumberFromBits(tag Tag, bits uint64) (Number, bool) {
	switch tag {
	case TagInteger:
		return Integer(int32(uint32(bits))), true
	case TagFloat:
		return Float(math.Float32frombits(uint32(bits))), true
	}
	return nil, false
}
