package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TypeMeta holds the size and alignment of a C type, in bytes.
type TypeMeta struct {
	Size      int
	Alignment int
}

// A Platform maps C scalar type names to their size and alignment on some
// target. Pointers and enums are kept apart, since they are not looked up
// by name.
type Platform struct {
	Name    string
	Pointer TypeMeta
	Enum    TypeMeta
	Types   map[string]TypeMeta
}

var (
	ErrSizeAlignParsing = errors.New("could not parse size/alignment")
	ErrSizeAlignNelem   = errors.New("expected 2 elements")
	ErrSizeAlignValue   = errors.New("size and alignment must not be zero")
	ErrUnknownPlatform  = errors.New("unknown platform")

	charTypes = []string{
		"char",
		"signed char",
		"unsigned char",
		"_Bool",
		"bool",
	}

	shortTypes = []string{
		"short",
		"short int",
		"signed short",
		"signed short int",
		"unsigned short",
		"unsigned short int",
	}

	intTypes = []string{
		"int",
		"signed",
		"signed int",
		"unsigned",
		"unsigned int",
	}

	longTypes = []string{
		"long",
		"long int",
		"signed long",
		"signed long int",
		"unsigned long",
		"unsigned long int",
		"int_fast16_t",
		"uint_fast16_t",
		"int_fast32_t",
		"uint_fast32_t",
	}

	longlongTypes = []string{
		"long long",
		"long long int",
		"signed long long",
		"signed long long int",
		"unsigned long long",
		"unsigned long long int",
	}

	// pointer sized integers follow the pointer
	ptrIntTypes = []string{
		"size_t",
		"ssize_t",
		"ptrdiff_t",
		"intptr_t",
		"uintptr_t",
	}

	// fixed width integers keep their size on every platform, and are
	// aligned as the integer family of the same size
	fixedWidthTypes = map[string]int{
		"int8_t":         1,
		"uint8_t":        1,
		"int_least8_t":   1,
		"uint_least8_t":  1,
		"int_fast8_t":    1,
		"uint_fast8_t":   1,
		"int16_t":        2,
		"uint16_t":       2,
		"int_least16_t":  2,
		"uint_least16_t": 2,
		"int32_t":        4,
		"uint32_t":       4,
		"int_least32_t":  4,
		"uint_least32_t": 4,
		"int64_t":        8,
		"uint64_t":       8,
		"int_least64_t":  8,
		"uint_least64_t": 8,
		"int_fast64_t":   8,
		"uint_fast64_t":  8,
		"intmax_t":       8,
		"uintmax_t":      8,
	}

	integerFamilies = []string{"char", "short", "int", "long", "long long"}

	familyKeywords = map[string]struct{}{
		"ptr":        {},
		"enum":       {},
		"char":       {},
		"short":      {},
		"int":        {},
		"long":       {},
		"longlong":   {},
		"float":      {},
		"double":     {},
		"longdouble": {},
	}
)

// NewPlatform returns one of the known platforms: "lp64" (64bit unix),
// "ilp32" (32bit systems) or "avr".
func NewPlatform(name string) (*Platform, error) {
	p := &Platform{Name: name, Types: make(map[string]TypeMeta)}

	switch name {
	case "lp64":
		p.SetPointer(8, 8)
		p.SetEnum(4, 4)
		p.SetChar(1, 1)
		p.SetShort(2, 2)
		p.SetInt(4, 4)
		p.SetLong(8, 8)
		p.SetLongLong(8, 8)
		p.SetFloat(4, 4)
		p.SetDouble(8, 8)
		p.SetLongDouble(16, 16)
	case "ilp32":
		p.SetPointer(4, 4)
		p.SetEnum(4, 4)
		p.SetChar(1, 1)
		p.SetShort(2, 2)
		p.SetInt(4, 4)
		p.SetLong(4, 4)
		p.SetLongLong(8, 4)
		p.SetFloat(4, 4)
		p.SetDouble(8, 4)
		p.SetLongDouble(12, 4)
	case "avr":
		p.SetPointer(2, 1)
		p.SetEnum(2, 1)
		p.SetChar(1, 1)
		p.SetShort(2, 1)
		p.SetInt(2, 1)
		p.SetLong(4, 1)
		p.SetLongLong(8, 1)
		p.SetFloat(4, 1)
		p.SetDouble(4, 1)
		p.SetLongDouble(8, 1)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}

	return p, nil
}

// Lookup returns the size and alignment of the scalar type name. Type
// qualifiers such as const and volatile are ignored.
func (p *Platform) Lookup(name string) (TypeMeta, bool) {
	meta, ok := p.Types[stripQualifiers(name)]
	return meta, ok
}

// Set overrides one of the type families by keyword. The keywords are the
// ones accepted on the command line: ptr, enum, char, short, int, long,
// longlong, float, double and longdouble. Any other name sets that single
// type, e.g. a typedef such as "pid_t". Overriding an integer family
// realigns the fixed width integers, so single types must be set last.
func (p *Platform) Set(family string, size, alignment int) {
	switch family {
	case "ptr":
		p.SetPointer(size, alignment)
	case "enum":
		p.SetEnum(size, alignment)
	case "char":
		p.SetChar(size, alignment)
	case "short":
		p.SetShort(size, alignment)
	case "int":
		p.SetInt(size, alignment)
	case "long":
		p.SetLong(size, alignment)
	case "longlong":
		p.SetLongLong(size, alignment)
	case "float":
		p.SetFloat(size, alignment)
	case "double":
		p.SetDouble(size, alignment)
	case "longdouble":
		p.SetLongDouble(size, alignment)
	default:
		p.Types[stripQualifiers(family)] = TypeMeta{size, alignment}
	}
}

func (p *Platform) SetPointer(size, alignment int) {
	p.Pointer = TypeMeta{size, alignment}
	p.setAll(ptrIntTypes, size, alignment)
}

func (p *Platform) SetEnum(size, alignment int) {
	p.Enum = TypeMeta{size, alignment}
}

func (p *Platform) SetChar(size, alignment int) {
	p.setAll(charTypes, size, alignment)
	p.setFixedWidth()
}

func (p *Platform) SetShort(size, alignment int) {
	p.setAll(shortTypes, size, alignment)
	p.setFixedWidth()
}

func (p *Platform) SetInt(size, alignment int) {
	p.setAll(intTypes, size, alignment)
	p.setFixedWidth()
}

func (p *Platform) SetLong(size, alignment int) {
	p.setAll(longTypes, size, alignment)
	p.setFixedWidth()
}

func (p *Platform) SetLongLong(size, alignment int) {
	p.setAll(longlongTypes, size, alignment)
	p.setFixedWidth()
}

func (p *Platform) SetFloat(size, alignment int) {
	p.Types["float"] = TypeMeta{size, alignment}
}

func (p *Platform) SetDouble(size, alignment int) {
	p.Types["double"] = TypeMeta{size, alignment}
}

func (p *Platform) SetLongDouble(size, alignment int) {
	p.Types["long double"] = TypeMeta{size, alignment}
}

func (p *Platform) setAll(names []string, size, alignment int) {
	for _, name := range names {
		p.Types[name] = TypeMeta{size, alignment}
	}
}

func (p *Platform) setFixedWidth() {
	for name, size := range fixedWidthTypes {
		p.Types[name] = TypeMeta{size, p.integerAlignment(size)}
	}
}

// integerAlignment returns the alignment of the first integer family that
// is size bytes wide, or size itself if there is none.
func (p *Platform) integerAlignment(size int) int {
	for _, family := range integerFamilies {
		if meta, ok := p.Types[family]; ok && meta.Size == size {
			return meta.Alignment
		}
	}
	return size
}

// IsFamily reports whether name is one of the type family keywords
// accepted by Set.
func IsFamily(name string) bool {
	_, ok := familyKeywords[name]
	return ok
}

var storageQualifiers = map[string]struct{}{
	"const":    {},
	"volatile": {},
	"restrict": {},
	"_Atomic":  {},
}

// stripQualifiers drops the qualifiers that do not affect the layout of a
// type, e.g. "const unsigned int" becomes "unsigned int".
func stripQualifiers(name string) string {
	var kept []string
	for _, word := range strings.Fields(name) {
		if _, ok := storageQualifiers[word]; !ok {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}

// getSizeAlign parses a "size,alignment" pair as passed on the command line.
func getSizeAlign(in string) (int, int, error) {
	list, err := parseIntList(in)
	if err != nil {
		return -1, -1, fmt.Errorf("%w, got '%s'", err, in)
	}

	if list[0] == 0 || list[1] == 0 {
		return -1, -1, ErrSizeAlignValue
	}

	return list[0], list[1], nil
}

func parseIntList(in string) ([]int, error) {
	splitted := strings.Split(in, ",")
	if len(splitted) != 2 {
		return nil, ErrSizeAlignNelem
	}

	list := make([]int, len(splitted))

	for idx, elem := range splitted {
		ielem, err := strconv.ParseInt(strings.TrimSpace(elem), 0, 0)
		if err != nil {
			return nil, ErrSizeAlignParsing
		}
		list[idx] = int(ielem)
	}
	return list, nil
}
