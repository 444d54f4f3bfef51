package render

import (
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// noResults is printed for empty lists.
const noResults = "(no results)"

// field is one visible struct field.
type field struct {
	name  string
	index []int
}

// fieldsOf lists the exported fields of t in declaration order, named by
// their json tag. Fields tagged json:"-" are hidden.
func fieldsOf(t reflect.Type) []field {
	var out []field
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out = append(out, field{name: name, index: sf.Index})
	}
	return out
}

// value formats the field of struct v. Nil embedded pointers yield "-".
func (f field) value(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	fv, err := v.FieldByIndexErr(f.index)
	if err != nil {
		return "-"
	}
	return cell(fv)
}

// deref follows pointers and interfaces. The result is invalid for nil.
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func (r *Renderer) renderTable(data any) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v := deref(reflect.ValueOf(data))

	var err error
	switch {
	case !v.IsValid():
		_, err = fmt.Fprintln(tw, noResults)
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		err = writeRows(tw, v)
	case v.Kind() == reflect.Struct:
		err = writeStruct(tw, v)
	case v.Kind() == reflect.Map:
		err = writeMap(tw, v)
	default:
		_, err = fmt.Fprintln(tw, cell(v))
	}
	if err != nil {
		return err
	}
	return tw.Flush()
}

// writeRows prints a list, one row per element. Struct elements get a
// header line.
func writeRows(w io.Writer, v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(w, noResults)
		return err
	}

	elem := v.Type().Elem()
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		for i := range v.Len() {
			if _, err := fmt.Fprintln(w, cell(v.Index(i))); err != nil {
				return err
			}
		}
		return nil
	}

	fields := fieldsOf(elem)
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = strings.ToUpper(f.name)
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return err
	}

	row := make([]string, len(fields))
	for i := range v.Len() {
		item := deref(v.Index(i))
		for j, f := range fields {
			row[j] = f.value(item)
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// writeStruct prints one "name:\tvalue" line per field.
func writeStruct(w io.Writer, v reflect.Value) error {
	for _, f := range fieldsOf(v.Type()) {
		if _, err := fmt.Fprintf(w, "%s:\t%s\n", f.name, f.value(v)); err != nil {
			return err
		}
	}
	return nil
}

// writeMap prints one line per entry, sorted by key.
func writeMap(w io.Writer, v reflect.Value) error {
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	})
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%v:\t%s\n", k.Interface(), cell(v.MapIndex(k))); err != nil {
			return err
		}
	}
	return nil
}

// cell formats a single value for table output.
func cell(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return "-"
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case Bytes:
			return x.String()
		case time.Time:
			if x.IsZero() {
				return ""
			}
			return fmt.Sprintf("%s (%s)", x.Format(time.RFC3339), humanize.Time(x))
		case fmt.Stringer:
			return x.String()
		}
	}

	switch v.Kind() {
	case reflect.Struct:
		return "{...}"
	case reflect.Map:
		return fmt.Sprintf("{%d entries}", v.Len())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return ""
		}
		parts := make([]string, v.Len())
		for i := range v.Len() {
			parts[i] = cell(v.Index(i))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v.Interface())
	}
}
