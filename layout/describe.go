package layout

import "go.bytecodealliance.org/wit"

// Slot is one addressable piece of a layout: a record field, a variant
// discriminant or a variant payload case.
type Slot struct {
	Name   string
	Type   string
	Offset uint32
	Size   uint32
	Align  uint32
}

// Slots lists the addressable pieces of t in offset order. Variant cases
// share the payload offset and are listed after the discriminant.
func (c *Calculator) Slots(t wit.Type) []Slot {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		info := c.Calculate(t)
		return []Slot{{Name: "value", Type: TypeName(t), Size: info.Size, Align: info.Align}}
	}

	info := c.Calculate(td)

	switch kind := td.Kind.(type) {
	case *wit.Record:
		slots := make([]Slot, 0, len(kind.Fields))
		for _, f := range kind.Fields {
			fl := c.Calculate(f.Type)
			slots = append(slots, Slot{
				Name:   f.Name,
				Type:   TypeName(f.Type),
				Offset: info.FieldOffs[f.Name],
				Size:   fl.Size,
				Align:  fl.Align,
			})
		}
		return slots

	case *wit.Variant:
		slots := []Slot{{
			Name:  "tag",
			Type:  discName(info.DiscSize),
			Size:  info.DiscSize,
			Align: info.DiscSize,
		}}
		for _, cs := range kind.Cases {
			s := Slot{Name: cs.Name, Type: "-", Offset: info.PayloadOffs}
			if cs.Type != nil {
				cl := c.Calculate(cs.Type)
				s.Type = TypeName(cs.Type)
				s.Size = cl.Size
				s.Align = cl.Align
			}
			slots = append(slots, s)
		}
		return slots
	}

	return []Slot{{Name: "value", Type: TypeName(td), Size: info.Size, Align: info.Align}}
}

func discName(size uint32) string {
	switch size {
	case 1:
		return "u8"
	case 2:
		return "u16"
	default:
		return "u32"
	}
}

// TypeName returns the WIT spelling of t.
func TypeName(t wit.Type) string {
	switch typ := t.(type) {
	case nil:
		return "-"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		switch kind := typ.Kind.(type) {
		case *wit.Record:
			return "record"
		case *wit.Variant:
			return "variant"
		case wit.Type:
			return TypeName(kind)
		}
	}
	return "unknown"
}

// IsScalar reports whether t is a fixed-width scalar.
func IsScalar(t wit.Type) bool {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32,
		wit.U64, wit.S64, wit.F32, wit.F64, wit.Char:
		return true
	}
	return false
}
