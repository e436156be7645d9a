package layout

import "fmt"

// Kind tells how the fields of an aggregate are placed in memory.
type Kind uint

const (
	Struct Kind = iota
	Union
)

func (k Kind) String() string {
	switch k {
	case Struct:
		return "struct"
	case Union:
		return "union"
	default:
		return fmt.Sprintf("Kind(%d)", uint(k))
	}
}

// A FieldSpec describes one field of an aggregate, with its size and
// required alignment in bytes.
type FieldSpec struct {
	Name      string
	Size      int
	Alignment int
}

// An AggregateSpec is a named struct or union. For structs, the order of
// Fields is the allocation order.
type AggregateSpec struct {
	Name   string
	Kind   Kind
	Fields []FieldSpec
}

// FieldLayout is the computed placement of a field.
type FieldLayout struct {
	Name      string
	Offset    int
	Size      int
	Alignment int
}

// A Gap is a run of padding bytes. Trailing gaps sit at the end of the
// aggregate and have no Field.
type Gap struct {
	Field    string
	Offset   int
	Length   int
	Trailing bool
}

// String renders the gap as a single diagnostic line.
func (g Gap) String() string {
	if g.Trailing {
		return fmt.Sprintf("%d-byte padding at the end", g.Length)
	}
	return fmt.Sprintf("%d-byte padding before \"%s\"", g.Length, g.Field)
}

// A Report is the result of analyzing an aggregate. Gaps is never nil: an
// empty slice means the aggregate has no padding at all.
type Report struct {
	Name      string
	Kind      Kind
	Size      int
	Alignment int
	Fields    []FieldLayout
	Gaps      []Gap
}

// Padding returns the total number of padding bytes in the aggregate.
func (r Report) Padding() int {
	total := 0
	for _, gap := range r.Gaps {
		total += gap.Length
	}
	return total
}

// PaddingBefore returns the padding inserted right before the named field,
// or the trailing padding when name is empty.
func (r Report) PaddingBefore(name string) int {
	for _, gap := range r.Gaps {
		if (name == "" && gap.Trailing) || (!gap.Trailing && gap.Field == name) {
			return gap.Length
		}
	}
	return 0
}

// Diagnostics returns one line per gap, in layout order.
func (r Report) Diagnostics() []string {
	lines := make([]string, 0, len(r.Gaps))
	for _, gap := range r.Gaps {
		lines = append(lines, gap.String())
	}
	return lines
}
