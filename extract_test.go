package main

import (
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/Abathargh/padcheck/layout"
)

func TestExtractAggregates(t *testing.T) {
	cont, err := os.ReadFile("testdata/simple.h")
	if err != nil {
		t.Fatalf("Cannot read test header: %v", err)
	}

	header, err := ExtractHeader("testdata/simple.h", string(cont), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	aggregates := header.Aggregates

	// stdint.h types must not leak in, and the order is the declaration one
	names := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		names = append(names, agg.DisplayName())
	}

	expected := []string{"struct test1", "union test2"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Expected aggregates %v: got %v", expected, names)
	}
}

func TestExtractDefines(t *testing.T) {
	src := "struct buf { char data[BUF_LEN]; int len; };"

	header, err := ExtractHeader("", src, []string{"BUF_LEN=13"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	aggregates := header.Aggregates
	if len(aggregates) != 1 {
		t.Fatalf("Expected 1 aggregate: got %d", len(aggregates))
	}

	arr, ok := aggregates[0].Fields[0].(Array)
	if !ok {
		t.Fatalf("Expected an array field: got %T", aggregates[0].Fields[0])
	}
	if arr.Elements() != 13 {
		t.Errorf("Expected 13 elements: got %d", arr.Elements())
	}
	if aggregates[0].Observed != 20 {
		t.Errorf("Expected observed size 20: got %d", aggregates[0].Observed)
	}
}

func TestResolverHost(t *testing.T) {
	aggregates := parseAll(t, `
		struct test1 { unsigned char a; unsigned int b; unsigned long long c; unsigned char d; };
		union test2 { unsigned long long a; char b[9]; };`)

	resolver := NewResolver(aggregates, nil, false)

	expected := []layout.AggregateSpec{
		{
			Name: "struct test1",
			Kind: layout.Struct,
			Fields: []layout.FieldSpec{
				{Name: "a", Size: 1, Alignment: 1},
				{Name: "b", Size: 4, Alignment: 4},
				{Name: "c", Size: 8, Alignment: 8},
				{Name: "d", Size: 1, Alignment: 1},
			},
		},
		{
			Name: "union test2",
			Kind: layout.Union,
			Fields: []layout.FieldSpec{
				{Name: "a", Size: 8, Alignment: 8},
				{Name: "b", Size: 9, Alignment: 1},
			},
		},
	}

	for idx, agg := range aggregates {
		spec, err := resolver.Spec(agg)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !reflect.DeepEqual(spec, expected[idx]) {
			t.Errorf("Expected spec %+v: got %+v", expected[idx], spec)
		}
	}
}

func TestResolverPlatform(t *testing.T) {
	aggregates := parseAll(t, `
		typedef unsigned int id_t;
		struct inner { short s; char c; };
		union u { int a; char _reserved[10]; struct { char p; long q; }; };
		struct outer {
			char tag;
			struct inner in;
			long count;
			double ratio;
			void *ptr;
			struct inner pair[2];
			enum { A, B } e;
			id_t id;
			union u un;
			struct { char p; short q; };
		};`)

	testCases := []struct {
		platform string
		expected []layout.FieldSpec
	}{
		{
			"lp64",
			[]layout.FieldSpec{
				{Name: "tag", Size: 1, Alignment: 1},
				{Name: "in", Size: 4, Alignment: 2},
				{Name: "count", Size: 8, Alignment: 8},
				{Name: "ratio", Size: 8, Alignment: 8},
				{Name: "ptr", Size: 8, Alignment: 8},
				{Name: "pair", Size: 8, Alignment: 2},
				{Name: "e", Size: 4, Alignment: 4},
				{Name: "id", Size: 4, Alignment: 4},
				{Name: "un", Size: 16, Alignment: 8},
				{Name: "__anon_1", Size: 4, Alignment: 2},
			},
		},
		{
			"ilp32",
			[]layout.FieldSpec{
				{Name: "tag", Size: 1, Alignment: 1},
				{Name: "in", Size: 4, Alignment: 2},
				{Name: "count", Size: 4, Alignment: 4},
				{Name: "ratio", Size: 8, Alignment: 4},
				{Name: "ptr", Size: 4, Alignment: 4},
				{Name: "pair", Size: 8, Alignment: 2},
				{Name: "e", Size: 4, Alignment: 4},
				{Name: "id", Size: 4, Alignment: 4},
				{Name: "un", Size: 12, Alignment: 4},
				{Name: "__anon_1", Size: 4, Alignment: 2},
			},
		},
		{
			"avr",
			[]layout.FieldSpec{
				{Name: "tag", Size: 1, Alignment: 1},
				{Name: "in", Size: 3, Alignment: 1},
				{Name: "count", Size: 4, Alignment: 1},
				{Name: "ratio", Size: 4, Alignment: 1},
				{Name: "ptr", Size: 2, Alignment: 1},
				{Name: "pair", Size: 6, Alignment: 1},
				{Name: "e", Size: 2, Alignment: 1},
				{Name: "id", Size: 2, Alignment: 1},
				{Name: "un", Size: 10, Alignment: 1},
				{Name: "__anon_1", Size: 3, Alignment: 1},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.platform, func(t *testing.T) {
			platform, err := NewPlatform(testCase.platform)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			resolver := NewResolver(aggregates, platform, false)
			outer, ok := resolver.Lookup("outer")
			if !ok {
				t.Fatalf("Cannot find struct outer")
			}

			spec, err := resolver.Spec(outer)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual(spec.Fields, testCase.expected) {
				t.Errorf("Expected fields %+v: got %+v", testCase.expected, spec.Fields)
			}
		})
	}
}

func TestResolverNested(t *testing.T) {
	aggregates := parseAll(t, `
		typedef unsigned int id_t;
		union u { int a; char _reserved[16]; };
		struct s { char c; union u x; };
		struct t { char c; id_t id; };`)

	testCases := []struct {
		platform string
		name     string
		size     int
		gaps     []layout.Gap
	}{
		{"lp64", "s", 20, []layout.Gap{{Field: "x", Offset: 1, Length: 3}}},
		{"avr", "s", 17, []layout.Gap{}},
		{"avr", "t", 3, []layout.Gap{}},
		{"lp64", "t", 8, []layout.Gap{{Field: "id", Offset: 1, Length: 3}}},
	}

	for _, testCase := range testCases {
		platform, err := NewPlatform(testCase.platform)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		resolver := NewResolver(aggregates, platform, false)
		agg, _ := resolver.Lookup(testCase.name)

		spec, err := resolver.Spec(agg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}

		report, err := layout.Analyze(spec)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}
		if report.Size != testCase.size {
			t.Errorf("%s, %s: expected size %d: got %d", testCase.platform,
				testCase.name, testCase.size, report.Size)
		}
		if !reflect.DeepEqual(report.Gaps, testCase.gaps) {
			t.Errorf("%s, %s: expected gaps %+v: got %+v", testCase.platform,
				testCase.name, testCase.gaps, report.Gaps)
		}
	}

	// the reserved member still counts when the union itself is reported
	resolver := NewResolver(aggregates, nil, false)
	union, _ := resolver.Lookup("u")
	spec, err := resolver.Spec(union)
	if err != nil || len(spec.Fields) != 1 {
		t.Errorf("Expected _reserved to be left out of union u: got %+v, %v", spec.Fields, err)
	}
}

func TestResolverTypedefs(t *testing.T) {
	src := `#include <stdint.h>
		typedef uint32_t word_t;
		typedef word_t reg_t;
		typedef unsigned short half_t;
		typedef struct s *s_ptr;
		struct regs { char c; reg_t r; half_t h; s_ptr next; };`

	header, err := ExtractHeader("", src, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for name, aliased := range map[string]string{
		"word_t": "uint32_t",
		"reg_t":  "word_t",
		"half_t": "unsigned short",
	} {
		if got := header.Typedefs[name]; got != aliased {
			t.Errorf("Expected %s to stand for %q: got %q", name, aliased, got)
		}
	}
	if _, ok := header.Typedefs["s_ptr"]; ok {
		t.Errorf("Expected the pointer typedef to be left out")
	}

	platform, err := NewPlatform("avr")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	resolver := NewResolver(header.Aggregates, platform, false)
	resolver.Typedefs = header.Typedefs

	spec, err := resolver.Spec(header.Aggregates[0])
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []layout.FieldSpec{
		{Name: "c", Size: 1, Alignment: 1},
		{Name: "r", Size: 4, Alignment: 1},
		{Name: "h", Size: 2, Alignment: 1},
		{Name: "next", Size: 2, Alignment: 1},
	}
	if !reflect.DeepEqual(spec.Fields, expected) {
		t.Errorf("Expected fields %+v: got %+v", expected, spec.Fields)
	}
}

func TestResolverAnonymous(t *testing.T) {
	aggregates := parseAll(t, `
		struct s {
			char c;
			union { int a; double d; };
			int z;
			struct { char x; };
		};`)

	names := aggregates[0].FieldNames()
	if expected := []string{"c", "__anon_1", "z", "__anon_2"}; !reflect.DeepEqual(names, expected) {
		t.Fatalf("Expected field names %v: got %v", expected, names)
	}

	spec, err := NewResolver(aggregates, nil, false).Spec(aggregates[0])
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []layout.FieldSpec{
		{Name: "c", Size: 1, Alignment: 1},
		{Name: "__anon_1", Size: 8, Alignment: 8},
		{Name: "z", Size: 4, Alignment: 4},
		{Name: "__anon_2", Size: 1, Alignment: 1},
	}
	if !reflect.DeepEqual(spec.Fields, expected) {
		t.Errorf("Expected fields %+v: got %+v", expected, spec.Fields)
	}
}

func TestResolverIgnored(t *testing.T) {
	aggregates := parseAll(t, `
		struct s { int a; char _reserved; int b; };
		union u { int _hidden; char c; };
		struct _private { int a; };
		struct only_ignored { int _a; };`)

	testCases := []struct {
		keepIgnored bool
		expected    map[string][]string
	}{
		{
			false,
			map[string][]string{
				"struct s": {"a", "b"},
				"union u":  {"c"},
			},
		},
		{
			true,
			map[string][]string{
				"struct s":            {"a", "_reserved", "b"},
				"union u":             {"c"},
				"struct only_ignored": {"_a"},
			},
		},
	}

	for _, testCase := range testCases {
		resolver := NewResolver(aggregates, nil, testCase.keepIgnored)

		for _, agg := range aggregates {
			if agg.Name == "struct _private" {
				if !agg.Ignored() {
					t.Errorf("Expected %s to be ignored", agg.Name)
				}
				continue
			}

			spec, err := resolver.Spec(agg)
			expected, ok := testCase.expected[agg.Name]
			if !ok {
				if !errors.Is(err, ErrNoFields) {
					t.Errorf("Expected error %v for %s: got %v", ErrNoFields, agg.Name, err)
				}
				continue
			}

			if err != nil {
				t.Errorf("Unexpected error for %s: %v", agg.Name, err)
				continue
			}

			var names []string
			for _, field := range spec.Fields {
				names = append(names, field.Name)
			}
			if !reflect.DeepEqual(names, expected) {
				t.Errorf("keep ignored %v, %s: expected %v: got %v",
					testCase.keepIgnored, agg.Name, expected, names)
			}
		}
	}
}

func TestResolverBitfields(t *testing.T) {
	aggregates := parseAll(t, "struct flags { unsigned a : 3; int b; };")

	_, err := NewResolver(aggregates, nil, false).Spec(aggregates[0])
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected error %v: got %v", ErrUnsupported, err)
	}
}

func TestIgnored(t *testing.T) {
	testCases := []struct {
		name     string
		expected bool
	}{
		{"", true},
		{"_", true},
		{"_pad", true},
		{"__reserved", true},
		{"pad_", false},
		{"a", false},
	}

	for _, testCase := range testCases {
		if got := Ignored(testCase.name); got != testCase.expected {
			t.Errorf("Ignored(%q): expected %v: got %v", testCase.name,
				testCase.expected, got)
		}
	}
}
