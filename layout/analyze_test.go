package layout

import (
	"errors"
	"reflect"
	"testing"
)

var (
	u8  = func(name string) FieldSpec { return FieldSpec{name, 1, 1} }
	u16 = func(name string) FieldSpec { return FieldSpec{name, 2, 2} }
	u32 = func(name string) FieldSpec { return FieldSpec{name, 4, 4} }
	u64 = func(name string) FieldSpec { return FieldSpec{name, 8, 8} }
)

func TestAnalyzeStruct(t *testing.T) {
	testCases := []struct {
		name      string
		fields    []FieldSpec
		size      int
		alignment int
		gaps      []Gap
	}{
		{
			"u8 then u32",
			[]FieldSpec{u8("a"), u32("b")},
			8, 4,
			[]Gap{{Field: "b", Offset: 1, Length: 3}},
		},
		{
			"u32 then u8",
			[]FieldSpec{u32("a"), u8("b")},
			8, 4,
			[]Gap{{Offset: 5, Length: 3, Trailing: true}},
		},
		{
			"single field",
			[]FieldSpec{u64("a")},
			8, 8,
			[]Gap{},
		},
		{
			"packed",
			[]FieldSpec{u64("a"), u32("b"), u16("c"), u8("d"), u8("e")},
			16, 8,
			[]Gap{},
		},
		{
			"inner and trailing",
			[]FieldSpec{u8("a"), u32("b"), u64("c"), u8("d")},
			24, 8,
			[]Gap{
				{Field: "b", Offset: 1, Length: 3},
				{Offset: 17, Length: 7, Trailing: true},
			},
		},
		{
			"several inner gaps",
			[]FieldSpec{u32("a"), u8("b"), u16("c"), u32("d"), u64("e")},
			24, 8,
			[]Gap{
				{Field: "c", Offset: 5, Length: 1},
				{Field: "e", Offset: 12, Length: 4},
			},
		},
		{
			"array of chars",
			[]FieldSpec{{"name", 9, 1}, u64("id")},
			24, 8,
			[]Gap{{Field: "id", Offset: 9, Length: 7}},
		},
		{
			"zero sized member",
			[]FieldSpec{u8("a"), {"flex", 0, 4}},
			4, 4,
			[]Gap{{Field: "flex", Offset: 1, Length: 3}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			report, err := AnalyzeStruct(testCase.fields)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if report.Kind != Struct {
				t.Errorf("Expected kind struct: got %s", report.Kind)
			}
			if report.Size != testCase.size {
				t.Errorf("Expected size %d: got %d", testCase.size, report.Size)
			}
			if report.Alignment != testCase.alignment {
				t.Errorf("Expected alignment %d: got %d", testCase.alignment,
					report.Alignment)
			}
			if !reflect.DeepEqual(report.Gaps, testCase.gaps) {
				t.Errorf("Expected gaps %+v: got %+v", testCase.gaps, report.Gaps)
			}

			fieldSizes := 0
			for _, field := range testCase.fields {
				fieldSizes += field.Size
			}
			if fieldSizes+report.Padding() != report.Size {
				t.Errorf("Fields (%d) plus padding (%d) do not add up to %d",
					fieldSizes, report.Padding(), report.Size)
			}
		})
	}
}

func TestAnalyzeStructOffsets(t *testing.T) {
	report, err := AnalyzeStruct([]FieldSpec{u8("a"), u16("b"), u8("c"), u64("d")})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []FieldLayout{
		{"a", 0, 1, 1},
		{"b", 2, 2, 2},
		{"c", 4, 1, 1},
		{"d", 8, 8, 8},
	}
	if !reflect.DeepEqual(report.Fields, expected) {
		t.Errorf("Expected fields %+v: got %+v", expected, report.Fields)
	}
}

func TestAnalyzeUnion(t *testing.T) {
	testCases := []struct {
		name      string
		fields    []FieldSpec
		size      int
		alignment int
		gaps      []Gap
	}{
		{
			"u8 and u64",
			[]FieldSpec{u8("a"), u64("b")},
			8, 8,
			[]Gap{},
		},
		{
			"u64 and char[9]",
			[]FieldSpec{u64("a"), {"b", 9, 1}},
			16, 8,
			[]Gap{{Offset: 9, Length: 7, Trailing: true}},
		},
		{
			"single member",
			[]FieldSpec{u16("a")},
			2, 2,
			[]Gap{},
		},
		{
			"order does not matter",
			[]FieldSpec{{"b", 9, 1}, u32("c"), u8("d")},
			12, 4,
			[]Gap{{Offset: 9, Length: 3, Trailing: true}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			report, err := AnalyzeUnion(testCase.fields)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if report.Kind != Union {
				t.Errorf("Expected kind union: got %s", report.Kind)
			}
			if report.Size != testCase.size {
				t.Errorf("Expected size %d: got %d", testCase.size, report.Size)
			}
			if report.Alignment != testCase.alignment {
				t.Errorf("Expected alignment %d: got %d", testCase.alignment,
					report.Alignment)
			}
			if !reflect.DeepEqual(report.Gaps, testCase.gaps) {
				t.Errorf("Expected gaps %+v: got %+v", testCase.gaps, report.Gaps)
			}

			for _, field := range report.Fields {
				if field.Offset != 0 {
					t.Errorf("Expected member %q at offset 0: got %d", field.Name,
						field.Offset)
				}
			}
		})
	}
}

func TestInvalidSpec(t *testing.T) {
	testCases := []struct {
		name   string
		fields []FieldSpec
	}{
		{"empty", nil},
		{"zero alignment", []FieldSpec{u8("a"), {"b", 4, 0}}},
		{"non power of two", []FieldSpec{{"a", 6, 3}}},
		{"negative alignment", []FieldSpec{{"a", 4, -4}}},
		{"negative size", []FieldSpec{{"a", -1, 1}}},
	}

	analyzers := map[string]func([]FieldSpec) (Report, error){
		"struct": AnalyzeStruct,
		"union":  AnalyzeUnion,
	}

	for _, testCase := range testCases {
		for kind, analyze := range analyzers {
			t.Run(kind+"/"+testCase.name, func(t *testing.T) {
				_, err := analyze(testCase.fields)
				if !errors.Is(err, ErrInvalidSpec) {
					t.Errorf("Expected error %v: got %v", ErrInvalidSpec, err)
				}
			})
		}
	}
}

func TestAnalyze(t *testing.T) {
	report, err := Analyze(AggregateSpec{
		Name:   "union test2",
		Kind:   Union,
		Fields: []FieldSpec{u64("a"), {"b", 9, 1}},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Name != "union test2" {
		t.Errorf("Expected name %q: got %q", "union test2", report.Name)
	}
	if report.Size != 16 {
		t.Errorf("Expected size 16: got %d", report.Size)
	}

	_, err = Analyze(AggregateSpec{Name: "struct empty", Kind: Struct})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Expected error %v: got %v", ErrInvalidSpec, err)
	}

	_, err = Analyze(AggregateSpec{Name: "enum e", Kind: Kind(7), Fields: []FieldSpec{u8("a")}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Expected error %v: got %v", ErrInvalidSpec, err)
	}
}

func TestAnalyzeAll(t *testing.T) {
	specs := []AggregateSpec{
		{Name: "struct a", Kind: Struct, Fields: []FieldSpec{u8("a"), u32("b")}},
		{Name: "struct bad", Kind: Struct, Fields: []FieldSpec{{"a", 4, 3}}},
		{Name: "union c", Kind: Union, Fields: []FieldSpec{u8("a"), u64("b")}},
		{Name: "struct d", Kind: Struct, Fields: []FieldSpec{u32("a"), u8("b")}},
	}

	results := AnalyzeAll(specs)
	if len(results) != len(specs) {
		t.Fatalf("Expected %d results: got %d", len(specs), len(results))
	}

	for idx, result := range results {
		if idx == 1 {
			if !errors.Is(result.Err, ErrInvalidSpec) {
				t.Errorf("Expected error %v: got %v", ErrInvalidSpec, result.Err)
			}
			continue
		}

		if result.Err != nil {
			t.Errorf("Unexpected error for %s: %v", specs[idx].Name, result.Err)
			continue
		}
		if result.Report.Name != specs[idx].Name {
			t.Errorf("Expected result %d to be %q: got %q", idx, specs[idx].Name,
				result.Report.Name)
		}
		if result.Report.Size != 8 {
			t.Errorf("Expected size 8 for %s: got %d", specs[idx].Name,
				result.Report.Size)
		}
	}
}

func TestProperties(t *testing.T) {
	aggregates := [][]FieldSpec{
		{u8("a")},
		{u8("a"), u32("b")},
		{u32("a"), u8("b")},
		{u16("a"), u64("b"), u8("c")},
		{{"a", 3, 1}, u16("b"), {"c", 5, 1}},
		{u64("a"), {"b", 9, 1}, u16("c")},
		{{"a", 16, 16}, u8("b")},
	}

	for _, fields := range aggregates {
		for _, analyze := range []func([]FieldSpec) (Report, error){AnalyzeStruct, AnalyzeUnion} {
			first, err := analyze(fields)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if first.Size%first.Alignment != 0 {
				t.Errorf("%s %+v: size %d is not a multiple of alignment %d",
					first.Kind, fields, first.Size, first.Alignment)
			}

			second, _ := analyze(fields)
			if !reflect.DeepEqual(first, second) {
				t.Errorf("%s %+v: analysis is not repeatable", first.Kind, fields)
			}

			if first.Kind == Union {
				maxSize := 0
				for _, field := range fields {
					maxSize = max(maxSize, field.Size)
				}
				if first.Size < maxSize {
					t.Errorf("union %+v: size %d smaller than member %d", fields,
						first.Size, maxSize)
				}
				if len(first.Gaps) > 1 {
					t.Errorf("union %+v: expected at most one gap: got %d", fields,
						len(first.Gaps))
				}
				if first.Size-maxSize != first.Padding() {
					t.Errorf("union %+v: trailing padding %d, expected %d", fields,
						first.Padding(), first.Size-maxSize)
				}
			}
		}
	}
}

func TestNonDecreasingAlignmentHasNoGaps(t *testing.T) {
	fields := []FieldSpec{u8("a"), u8("b"), u16("c"), u32("d"), u64("e"), u64("f")}

	report, err := AnalyzeStruct(fields)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.Gaps) != 0 {
		t.Errorf("Expected no gaps: got %+v", report.Gaps)
	}
	if report.Size != 24 {
		t.Errorf("Expected size 24: got %d", report.Size)
	}
}

func TestReorder(t *testing.T) {
	fields := []FieldSpec{u8("a"), u32("b"), u64("c"), u8("d"), u32("e")}

	reordered := Reorder(fields)
	expected := []FieldSpec{u64("c"), u32("b"), u32("e"), u8("a"), u8("d")}
	if !reflect.DeepEqual(reordered, expected) {
		t.Errorf("Expected %+v: got %+v", expected, reordered)
	}

	if fields[0].Name != "a" {
		t.Errorf("Reorder modified its input")
	}

	report, err := AnalyzeStruct(reordered)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Size != 24 {
		t.Errorf("Expected size 24: got %d", report.Size)
	}
	if len(report.Gaps) != 1 || report.PaddingBefore("") != 6 {
		t.Errorf("Expected only 6 trailing bytes: got %+v", report.Gaps)
	}
}
