package contract

import (
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/layout"
)

// WIT descriptions of the shared layouts. Field and case order is part of
// the contract.
var (
	PointType = &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.S32{}},
		{Name: "y", Type: wit.S32{}},
	}}}

	NumberType = &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "integer", Type: wit.S32{}},
		{Name: "float", Type: wit.F32{}},
	}}}

	NamedCollectionType = &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: FieldName, Type: wit.U32{}},
		{Name: FieldValues, Type: wit.U32{}},
		{Name: FieldLen, Type: wit.U32{}},
	}}}

	// ElementType is the element type of NamedCollection values.
	ElementType wit.Type = wit.S32{}
)

const (
	FieldName   = "name"
	FieldValues = "values"
	FieldLen    = "len"
)

// Calc is the layout calculator shared by the contract's codecs.
var Calc = layout.NewCalculator()

// Layouts computed once from the WIT descriptions.
var (
	PointLayout           = Calc.Calculate(PointType)
	NumberLayout          = Calc.Calculate(NumberType)
	NamedCollectionLayout = Calc.Calculate(NamedCollectionType)
	ElementLayout         = Calc.Calculate(ElementType)
)

// TypeID identifies a shared layout in the ownership ledger.
type TypeID uint32

const (
	TypeInvalid TypeID = iota
	TypePoint
	TypeNumber
	TypeNamedCollection
)

func (t TypeID) String() string {
	switch t {
	case TypePoint:
		return "point"
	case TypeNumber:
		return "number"
	case TypeNamedCollection:
		return "named-collection"
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// ReleasePolicy says whether the contract defines a release path for a type.
type ReleasePolicy uint8

const (
	// PolicyUnspecified: the contract defines no release entry point. Values
	// stay allocated until the session's memory is dropped.
	PolicyUnspecified ReleasePolicy = iota
	// PolicyPaired: exactly one call to the paired release entry point.
	PolicyPaired
)

func (p ReleasePolicy) String() string {
	if p == PolicyPaired {
		return "paired"
	}
	return "unspecified"
}

// Policy returns the release policy of t.
func (t TypeID) Policy() ReleasePolicy {
	if t == TypeNamedCollection {
		return PolicyPaired
	}
	return PolicyUnspecified
}

// Layout returns the WIT description of t.
func (t TypeID) Layout() (wit.Type, bool) {
	switch t {
	case TypePoint:
		return PointType, true
	case TypeNumber:
		return NumberType, true
	case TypeNamedCollection:
		return NamedCollectionType, true
	}
	return nil, false
}

// Types lists the shared layouts in header order.
func Types() []TypeID {
	return []TypeID{TypePoint, TypeNumber, TypeNamedCollection}
}

// Point is a two-field coordinate.
type Point struct {
	X int32
	Y int32
}

// Collection is the consumer's copy of a NamedCollection.
type Collection struct {
	Name   string
	Values []int32
}

// Len returns the element count.
func (c Collection) Len() int {
	return len(c.Values)
}
