package layout

import (
	"fmt"
	"sort"
	"sync"
)

// AnalyzeStruct lays out fields one after the other, each at the first
// offset satisfying its alignment, and rounds the total size up to the
// largest field alignment.
func AnalyzeStruct(fields []FieldSpec) (Report, error) {
	if err := validate(fields); err != nil {
		return Report{}, err
	}

	var (
		offset      = 0
		structAlign = 1
		placed      = make([]FieldLayout, 0, len(fields))
		gaps        = []Gap{}
	)

	for _, field := range fields {
		aligned := AlignUp(offset, field.Alignment)
		if aligned > offset {
			gaps = append(gaps, Gap{
				Field:  field.Name,
				Offset: offset,
				Length: aligned - offset,
			})
		}

		placed = append(placed, FieldLayout{
			Name:      field.Name,
			Offset:    aligned,
			Size:      field.Size,
			Alignment: field.Alignment,
		})

		offset = aligned + field.Size
		structAlign = max(structAlign, field.Alignment)
	}

	size := AlignUp(offset, structAlign)
	if size > offset {
		gaps = append(gaps, Gap{Offset: offset, Length: size - offset, Trailing: true})
	}

	return Report{
		Kind:      Struct,
		Size:      size,
		Alignment: structAlign,
		Fields:    placed,
		Gaps:      gaps,
	}, nil
}

// AnalyzeUnion overlays every member at offset zero. The union is as large
// as its largest member, rounded up to the largest member alignment; the
// rounding is the only padding a union can have.
func AnalyzeUnion(fields []FieldSpec) (Report, error) {
	if err := validate(fields); err != nil {
		return Report{}, err
	}

	var (
		unionAlign = 1
		maxSize    = 0
		placed     = make([]FieldLayout, 0, len(fields))
		gaps       = []Gap{}
	)

	for _, field := range fields {
		unionAlign = max(unionAlign, field.Alignment)
		maxSize = max(maxSize, field.Size)
		placed = append(placed, FieldLayout{
			Name:      field.Name,
			Size:      field.Size,
			Alignment: field.Alignment,
		})
	}

	size := AlignUp(maxSize, unionAlign)
	if size > maxSize {
		gaps = append(gaps, Gap{Offset: maxSize, Length: size - maxSize, Trailing: true})
	}

	return Report{
		Kind:      Union,
		Size:      size,
		Alignment: unionAlign,
		Fields:    placed,
		Gaps:      gaps,
	}, nil
}

// Analyze computes the layout of spec according to its kind.
func Analyze(spec AggregateSpec) (Report, error) {
	var (
		report Report
		err    error
	)

	switch spec.Kind {
	case Struct:
		report, err = AnalyzeStruct(spec.Fields)
	case Union:
		report, err = AnalyzeUnion(spec.Fields)
	default:
		return Report{}, invalidSpec("%s: unknown aggregate kind %s", spec.Name, spec.Kind)
	}

	if err != nil {
		if spec.Name != "" {
			return Report{}, fmt.Errorf("%s: %w", spec.Name, err)
		}
		return Report{}, err
	}

	report.Name = spec.Name
	return report, nil
}

// A Result pairs the report of one aggregate with the error that prevented
// its analysis, if any.
type Result struct {
	Report Report
	Err    error
}

// AnalyzeAll analyzes every spec concurrently. Results are returned in the
// same order as specs, and a failure in one aggregate does not affect the
// others.
func AnalyzeAll(specs []AggregateSpec) []Result {
	results := make([]Result, len(specs))

	var wg sync.WaitGroup
	wg.Add(len(specs))
	for idx := range specs {
		go func(idx int) {
			defer wg.Done()
			report, err := Analyze(specs[idx])
			results[idx] = Result{Report: report, Err: err}
		}(idx)
	}
	wg.Wait()

	return results
}

// Reorder returns a copy of fields sorted by decreasing alignment, then by
// decreasing size. As long as every size is a multiple of its alignment,
// a struct laid out in this order has no inter-field padding.
func Reorder(fields []FieldSpec) []FieldSpec {
	sorted := make([]FieldSpec, len(fields))
	copy(sorted, fields)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Alignment != sorted[j].Alignment {
			return sorted[i].Alignment > sorted[j].Alignment
		}
		return sorted[i].Size > sorted[j].Size
	})
	return sorted
}

func validate(fields []FieldSpec) error {
	if len(fields) == 0 {
		return invalidSpec("no fields")
	}

	for _, field := range fields {
		if !IsPowerOfTwo(field.Alignment) {
			return invalidSpec("field %q: alignment %d is not a power of two",
				field.Name, field.Alignment)
		}
		if field.Size < 0 {
			return invalidSpec("field %q: negative size %d", field.Name, field.Size)
		}
	}
	return nil
}
