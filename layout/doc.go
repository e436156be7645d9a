// Package layout recomputes the memory layout of C aggregates and reports
// the padding a compiler inserts between and after their fields.
//
// An aggregate is described by an AggregateSpec: an ordered list of fields
// whose sizes and alignments are already resolved. AnalyzeStruct places the
// fields sequentially under natural alignment, AnalyzeUnion overlays them at
// offset zero. Both return a Report listing every Gap:
//
//	report, err := layout.AnalyzeStruct([]layout.FieldSpec{
//		{Name: "a", Size: 1, Alignment: 1},
//		{Name: "b", Size: 4, Alignment: 4},
//	})
//	// report.Size == 8, report.Gaps[0].String() == `3-byte padding before "b"`
//
// Verify compares a report against a size observed elsewhere, typically the
// one computed by a real compiler, and returns a *SizeMismatchError when the
// two disagree.
//
// Everything in this package is free of side effects and safe for
// concurrent use.
package layout
