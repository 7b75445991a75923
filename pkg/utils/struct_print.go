package utils

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
)

// StructPrinter renders report structs as indented label: value lines.
// Labels come from json tags, falling back to the field name; fields
// tagged json:"-" and unexported fields are skipped.
type StructPrinter struct {
	out        io.Writer
	indent     int
	labelWidth int
}

func NewStructPrinter() *StructPrinter {
	return &StructPrinter{
		out:        os.Stdout,
		indent:     4,
		labelWidth: 28,
	}
}

func (sp *StructPrinter) SetOutput(w io.Writer) {
	if w != nil {
		sp.out = w
	}
}

func (sp *StructPrinter) Print(v any) {
	sp.printValue(reflect.ValueOf(v), 0)
}

func (sp *StructPrinter) printValue(v reflect.Value, indent int) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		name, colorRule, ok := parseFieldTag(field)
		if !ok {
			continue
		}

		switch value.Kind() {
		case reflect.Slice, reflect.Array:
			if value.Len() == 0 {
				continue
			}
			sp.printHeader(indent, name)
			for j := 0; j < value.Len(); j++ {
				elem := value.Index(j)
				if elem.Kind() == reflect.Ptr {
					if elem.IsNil() {
						continue
					}
					elem = elem.Elem()
				}
				if elem.Kind() == reflect.Struct {
					if j > 0 {
						fmt.Fprintln(sp.out)
					}
					sp.printValue(elem, indent+1)
				} else {
					sp.printField(indent+1, fmt.Sprintf("%s[%d]", name, j), elem.Interface(), colorRule)
				}
			}
		case reflect.Struct:
			sp.printHeader(indent, name)
			sp.printValue(value, indent+1)
		default:
			if isEmpty(value) {
				continue
			}
			sp.printField(indent, name, value.Interface(), colorRule)
		}
	}
}

func (sp *StructPrinter) printHeader(indent int, label string) {
	indentStr := strings.Repeat(" ", indent*sp.indent)
	fmt.Fprintf(sp.out, "%s[%s]\n", indentStr, label)
}

func (sp *StructPrinter) printField(indent int, label string, value any, colorRule string) {
	indentStr := strings.Repeat(" ", indent*sp.indent)
	width := sp.labelWidth - indent*sp.indent
	if width < 0 {
		width = 0
	}
	fmt.Fprintf(sp.out, "%s%-*s: %s\n", indentStr, width, label, sp.formatValue(colorRule, value))
}

func (sp *StructPrinter) formatValue(colorRule string, value any) string {
	strValue := fmt.Sprintf("%v", value)
	if colorRule == "" {
		return strValue
	}

	color := sp.getColor(colorRule, strValue)
	if color == "" {
		return strValue
	}

	return fmt.Sprintf("%s%s%s", color, strValue, ColorReset)
}

func (sp *StructPrinter) getColor(colorRule, value string) string {
	var color string
	switch colorRule {
	case "trueGreen":
		if value == "true" {
			color = ColorGreen
		} else {
			color = ColorRed
		}
	case "defaultGreen":
		if value != "" {
			color = ColorGreen
		}
	}
	return color
}

// parseFieldTag derives the printed label from the json tag. Interface
// fields never print; they carry handles, not report data.
func parseFieldTag(field reflect.StructField) (string, string, bool) {
	if !field.IsExported() || field.Type.Kind() == reflect.Interface {
		return "", "", false
	}

	name := field.Name
	if tag, ok := field.Tag.Lookup("json"); ok {
		base := strings.Split(tag, ",")[0]
		if base == "-" {
			return "", "", false
		}
		if base != "" {
			name = base
		}
	}

	return name, field.Tag.Get("color"), true
}

// isEmpty hides zero strings and nil pointers; numeric zeros and false
// booleans are real report values and stay visible.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Map:
		return v.Len() == 0
	default:
		return false
	}
}
