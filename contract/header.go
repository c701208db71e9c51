package contract

import (
	"fmt"
	"io"
	"strings"

	"github.com/wippyai/ffi-boundary/layout"
)

// cNames are the C struct names of the shared layouts.
var cNames = map[TypeID]string{
	TypePoint:           "Point",
	TypeNumber:          "Number",
	TypeNamedCollection: "NamedCollection",
}

// cFieldTypes override the scalar mapping where a u32 slot holds an address.
var cFieldTypes = map[TypeID]map[string]string{
	TypeNamedCollection: {
		FieldName:   "char *",
		FieldValues: "int32_t *",
	},
}

var cScalars = map[string]string{
	"bool": "uint8_t",
	"u8":   "uint8_t",
	"s8":   "int8_t",
	"u16":  "uint16_t",
	"s16":  "int16_t",
	"u32":  "uint32_t",
	"s32":  "int32_t",
	"u64":  "uint64_t",
	"s64":  "int64_t",
	"f32":  "float",
	"f64":  "double",
}

// CName returns the C struct name of t.
func (t TypeID) CName() string {
	return cNames[t]
}

// WriteHeader renders the C header for a 32-bit consumer: status codes,
// every shared layout with its offsets, and every entry point.
func WriteHeader(w io.Writer) error {
	var b strings.Builder

	b.WriteString("/* Code generated by ffiboundary header. DO NOT EDIT. */\n\n")
	b.WriteString("#ifndef CFFI_H\n#define CFFI_H\n\n")
	b.WriteString("#include <stdint.h>\n\n")
	b.WriteString("#if UINTPTR_MAX != 0xffffffffu\n")
	b.WriteString("#error \"cffi layouts use 32-bit addresses\"\n")
	b.WriteString("#endif\n\n")
	b.WriteString("typedef uint32_t cffi_handle_t;\n")
	b.WriteString("typedef int32_t cffi_status_t;\n\n")
	b.WriteString("#define CFFI_NULL_HANDLE ((cffi_handle_t)0)\n\n")

	for _, s := range Statuses() {
		fmt.Fprintf(&b, "#define CFFI_STATUS_%s %d\n", macroName(s.String()), int32(s))
	}
	b.WriteString("\n")

	for _, t := range Types() {
		if err := writeLayout(&b, t); err != nil {
			return err
		}
		b.WriteString("\n")
	}

	for _, sig := range Signatures {
		writeSignature(&b, sig)
	}
	b.WriteString("\n#endif /* CFFI_H */\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeLayout(b *strings.Builder, t TypeID) error {
	wt, _ := t.Layout()
	info := Calc.Calculate(wt)
	slots := Calc.Slots(wt)

	fmt.Fprintf(b, "/* %s: size %d, align %d, release: %s */\n", t, info.Size, info.Align, t.Policy())

	if t == TypeNumber {
		// slots[0] is the tag, the rest are cases sharing the payload offset.
		for i, s := range slots[1:] {
			fmt.Fprintf(b, "#define %s_TAG_%s %d\n", macroName(t.String()), macroName(s.Name), i)
		}
		fmt.Fprintf(b, "typedef struct %s {\n", t.CName())
		tag := slots[0]
		fmt.Fprintf(b, "    %s; /* offset %d */\n", cDecl(cScalars[tag.Type], tag.Name), tag.Offset)
		b.WriteString("    union {\n")
		for _, s := range slots[1:] {
			ct, ok := cScalars[s.Type]
			if !ok {
				return fmt.Errorf("contract: no C type for %s case %s", t, s.Name)
			}
			fmt.Fprintf(b, "        %s; /* offset %d */\n", cDecl(ct, "as_"+s.Name), s.Offset)
		}
		b.WriteString("    } payload;\n")
		fmt.Fprintf(b, "} %s;\n", t.CName())
		return nil
	}

	fmt.Fprintf(b, "typedef struct %s {\n", t.CName())
	for _, s := range slots {
		ct, ok := cFieldTypes[t][s.Name]
		if !ok {
			ct, ok = cScalars[s.Type]
		}
		if !ok {
			return fmt.Errorf("contract: no C type for %s field %s", t, s.Name)
		}
		fmt.Fprintf(b, "    %s; /* offset %d */\n", cDecl(ct, s.Name), s.Offset)
	}
	fmt.Fprintf(b, "} %s;\n", t.CName())
	return nil
}

func writeSignature(b *strings.Builder, sig Signature) {
	if sig.Doc != "" {
		fmt.Fprintf(b, "/* %s */\n", sig.Doc)
	}
	params := "void"
	if len(sig.CParams) > 0 {
		decls := make([]string, len(sig.CParams))
		for i, ct := range sig.CParams {
			decls[i] = cDecl(ct, sig.ParamNames[i])
		}
		params = strings.Join(decls, ", ")
	}
	fmt.Fprintf(b, "%s;\n", cDecl(sig.CResult, sig.Name+"("+params+")"))
}

// cDecl joins a C type and a declarator, keeping "*" against the name.
func cDecl(ctype, name string) string {
	if strings.HasSuffix(ctype, "*") {
		return ctype + name
	}
	return ctype + " " + name
}

func macroName(s string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(s))
}

// LayoutTable returns one row per slot of every shared layout, for display.
func LayoutTable() []LayoutRow {
	var rows []LayoutRow
	for _, t := range Types() {
		wt, _ := t.Layout()
		info := Calc.Calculate(wt)
		for _, s := range Calc.Slots(wt) {
			rows = append(rows, LayoutRow{
				Type:      t,
				TypeSize:  info.Size,
				TypeAlign: info.Align,
				Slot:      s,
			})
		}
	}
	return rows
}

// LayoutRow is one slot of a shared layout.
type LayoutRow struct {
	Type      TypeID
	TypeSize  uint32
	TypeAlign uint32
	Slot      layout.Slot
}
