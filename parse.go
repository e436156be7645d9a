package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Abathargh/padcheck/layout"
	"modernc.org/cc/v4"
)

// An Aggregate is a C struct or union as declared in the parsed source.
type Aggregate struct {
	Name    string
	Typedef string
	Kind    layout.Kind
	Fields  []Field

	// Bitfields is set when at least one member is a bit-field.
	Bitfields bool

	// Observed is the size computed by the C type checker, or 0 when the
	// type is incomplete.
	Observed int

	// members holds the size and alignment of each member as computed by
	// the C type checker, types its C type. Both are keyed by the names
	// returned by FieldNames.
	members map[string]TypeMeta
	types   map[string]cc.Type
}

// DisplayName returns the name used to refer to the aggregate in reports:
// the tagged name if there is one, the typedef name otherwise.
func (a *Aggregate) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Typedef
}

// FieldNames returns the name of every field, in declaration order.
// Anonymous struct and union members are named __anon_1, __anon_2, and so
// on.
func (a *Aggregate) FieldNames() []string {
	var (
		names = make([]string, len(a.Fields))
		anon  = 0
	)

	for idx, field := range a.Fields {
		if name := field.Ident(); name != "" {
			names[idx] = name
			continue
		}
		anon++
		names[idx] = anonymousName(anon)
	}
	return names
}

func anonymousName(n int) string {
	return fmt.Sprintf("__anon_%d", n)
}

// A Field is a member of an aggregate.
type Field interface {
	// Ident is the name of the field, empty for anonymous members.
	Ident() string
	// Type is the C type of the field, as written in the declaration.
	Type() string
	// Declaration is the field as it appears after its type.
	Declaration() string
}

// A Basic field is a field of either a primitive type, or an aggregate type.
type Basic struct {
	Qualifiers []string
	TypeName   string
	Name       string
}

func (b Basic) Ident() string {
	return b.Name
}

func (b Basic) Type() string {
	return strings.Join(append(append([]string(nil), b.Qualifiers...), b.TypeName), " ")
}

func (b Basic) Declaration() string {
	return b.Name
}

// A Pointer is a field pointing to any Basic type.
type Pointer struct {
	Basic
	PointerQualifiers []string
}

func (p Pointer) Type() string {
	var builder strings.Builder
	builder.WriteString(p.Basic.Type())
	builder.WriteString(" *")

	for _, pQualifier := range p.PointerQualifiers {
		builder.WriteRune(' ')
		builder.WriteString(pQualifier)
	}

	return builder.String()
}

// An Array is a field holding a fixed number of elements. Dims lists every
// dimension, -1 standing for one whose length could not be read from the
// declaration.
type Array struct {
	Basic
	Dims       []int
	OfPointers bool
}

// Elements returns the total number of elements in the array, or -1 if any
// dimension is unknown.
func (a Array) Elements() int {
	total := 1
	for _, dim := range a.Dims {
		if dim < 0 {
			return -1
		}
		total *= dim
	}
	return total
}

func (a Array) Type() string {
	var builder strings.Builder
	builder.WriteString(a.Basic.Type())
	if a.OfPointers {
		builder.WriteString(" *")
	}
	for _, dim := range a.Dims {
		builder.WriteRune('[')
		if dim >= 0 {
			builder.WriteString(strconv.Itoa(dim))
		}
		builder.WriteRune(']')
	}
	return builder.String()
}

func (a Array) Declaration() string {
	var builder strings.Builder
	builder.WriteString(a.Name)
	for _, dim := range a.Dims {
		builder.WriteRune('[')
		if dim >= 0 {
			builder.WriteString(strconv.Itoa(dim))
		}
		builder.WriteRune(']')
	}
	return builder.String()
}

// A FuncPointer is a field holding a pointer to a function.
type FuncPointer struct {
	ReturnType string
	Name       string
	Args       []string
}

func (fp FuncPointer) Ident() string {
	return fp.Name
}

func (fp FuncPointer) Type() string {
	return fmt.Sprintf("%s (*)(%s)", fp.ReturnType, strings.Join(fp.Args, ", "))
}

func (fp FuncPointer) Declaration() string {
	return fmt.Sprintf("(*%s)(%s)", fp.Name, strings.Join(fp.Args, ", "))
}

var (
	ErrNotAnAggregate = errors.New("not an aggregate")
)

// ParseAggregate parses a declaration in search for a struct or union
// definition. Declarations that only mention an aggregate, such as forward
// declarations or variables, are not aggregates.
func ParseAggregate(decl *cc.Declaration) (*Aggregate, error) {
	var (
		ret   Aggregate
		specs = decl.DeclarationSpecifiers
	)

	if specs == nil {
		return nil, ErrNotAnAggregate
	}

	typedef := isTypedef(specs)

	// skip the storage class, the type section holds the aggregate
	if specs.Case == cc.DeclarationSpecifiersStorage {
		specs = specs.DeclarationSpecifiers
	}

	if specs == nil || specs.TypeSpecifier == nil {
		return nil, ErrNotAnAggregate
	}

	aggrSpec := specs.TypeSpecifier.StructOrUnionSpecifier
	if aggrSpec == nil || aggrSpec.StructDeclarationList == nil {
		return nil, ErrNotAnAggregate
	}

	var (
		aggregateId   = aggrSpec.Token.SrcStr()
		aggregateKind = aggrSpec.StructOrUnion.Token.SrcStr()
	)

	switch aggregateKind {
	case "struct":
		ret.Kind = layout.Struct
	case "union":
		ret.Kind = layout.Union
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrNotAnAggregate, aggregateKind)
	}

	if aggregateId != "" {
		ret.Name = fmt.Sprintf("%s %s", aggregateKind, aggregateId)
	}

	if typedef && decl.InitDeclaratorList != nil {
		ret.Typedef = getTypedefName(decl)
	}

	if ret.Name == "" && ret.Typedef == "" {
		return nil, fmt.Errorf("%w: anonymous %s", ErrNotAnAggregate, aggregateKind)
	}

	ret.members = make(map[string]TypeMeta)
	ret.types = make(map[string]cc.Type)

	declList := aggrSpec.StructDeclarationList
	for ; declList != nil; declList = declList.StructDeclarationList {
		ret.parseFields(declList.StructDeclaration)
	}

	typ := decl.DeclarationSpecifiers.Type()
	ret.collectAnonymous(typ)

	if meta, ok := typeMetaOf(typ); ok && meta.Size > 0 {
		ret.Observed = meta.Size
	}
	return &ret, nil
}

// GetAggregateNames returns every identifier with which a user can refer to
// the passed aggregate: its typedef name, its tagged name, e.g. `struct foo`,
// and the bare tag, e.g. `foo`.
func GetAggregateNames(aggregate *Aggregate) []string {
	const maxNames = 3

	names := make([]string, 0, maxNames)

	if aggregate.Typedef != "" {
		names = append(names, aggregate.Typedef)
	}

	if aggregate.Name != "" {
		_, tag, _ := strings.Cut(aggregate.Name, " ")
		names = append(names, aggregate.Name, tag)
	}

	return names
}

// typeMetaOf returns the size and alignment the C type checker computed for
// typ, false if it could not lay it out.
func typeMetaOf(typ cc.Type) (TypeMeta, bool) {
	if typ == nil || typ.Size() < 0 || typ.Align() <= 0 {
		return TypeMeta{}, false
	}
	return TypeMeta{Size: int(typ.Size()), Alignment: int(typ.Align())}, true
}

func isTypedef(specs *cc.DeclarationSpecifiers) bool {
	return specs.Case == cc.DeclarationSpecifiersStorage &&
		specs.StorageClassSpecifier != nil &&
		specs.StorageClassSpecifier.Token.SrcStr() == "typedef"
}

// getTypedefName extracts the name declared by a typedef, as long as it
// names the aggregate itself and not a pointer to it.
func getTypedefName(decl *cc.Declaration) string {
	initDecl := decl.InitDeclaratorList.InitDeclarator
	if initDecl == nil || initDecl.Declarator == nil {
		return ""
	}

	declarator := initDecl.Declarator
	if declarator.Pointer != nil || declarator.DirectDeclarator == nil {
		return ""
	}

	direct := declarator.DirectDeclarator
	if direct.DirectDeclarator != nil {
		return ""
	}
	return direct.Token.SrcStr()
}

// parseFields adds the fields declared in a single struct declaration, e.g.
// both a and b in `int a, b;`, along with their layout as computed by the C
// type checker.
func (a *Aggregate) parseFields(fieldDecl *cc.StructDeclaration) {
	if fieldDecl == nil || fieldDecl.SpecifierQualifierList == nil {
		return
	}

	qualifiers, typeName := parseQualifiers(fieldDecl.SpecifierQualifierList)

	// anonymous struct or union member
	if fieldDecl.StructDeclaratorList == nil {
		a.Fields = append(a.Fields, Basic{qualifiers, typeName, ""})
		return
	}

	list := fieldDecl.StructDeclaratorList
	for ; list != nil; list = list.StructDeclaratorList {
		structDecl := list.StructDeclarator
		if structDecl == nil {
			continue
		}

		if structDecl.Case == cc.StructDeclaratorBitField {
			a.Bitfields = true
		}

		if structDecl.Declarator == nil {
			continue
		}

		field := parseDeclarator(structDecl.Declarator, qualifiers, typeName)
		a.Fields = append(a.Fields, field)

		if name := field.Ident(); name != "" {
			a.setMember(name, structDecl.Declarator.Type())
		}
	}
}

// fieldLister is implemented by the struct and union types of the C type
// checker.
type fieldLister interface {
	NumFields() int
	FieldByIndex(int) *cc.Field
}

// collectAnonymous records the anonymous struct and union members of typ,
// which have no declarator of their own.
func (a *Aggregate) collectAnonymous(typ cc.Type) {
	fields, ok := typ.(fieldLister)
	if !ok {
		return
	}

	anon := 0
	for idx := range fields.NumFields() {
		field := fields.FieldByIndex(idx)
		if field == nil || field.IsBitfield() || field.Name() != "" {
			continue
		}
		anon++
		a.setMember(anonymousName(anon), field.Type())
	}
}

func (a *Aggregate) setMember(name string, typ cc.Type) {
	if typ == nil {
		return
	}
	a.types[name] = typ
	if meta, ok := typeMetaOf(typ); ok {
		a.members[name] = meta
	}
}

// parseQualifiers returns the qualifiers of a declaration alongside its
// type, which is the last specifier in the list.
func parseQualifiers(list *cc.SpecifierQualifierList) ([]string, string) {
	var qualifiers []string

	for ; list != nil; list = list.SpecifierQualifierList {
		var qualifierId string

		switch list.Case {
		case cc.SpecifierQualifierListTypeQual:
			qualifierId = list.TypeQualifier.Token.SrcStr()
		case cc.SpecifierQualifierListTypeSpec:
			qualifierId = typeSpecifierName(list.TypeSpecifier)
		default:
			continue
		}

		qualifiers = append(qualifiers, qualifierId)
	}

	if len(qualifiers) == 0 {
		return nil, ""
	}

	lastIdx := len(qualifiers) - 1
	if lastIdx > 0 {
		return qualifiers[:lastIdx], qualifiers[lastIdx]
	}
	return nil, qualifiers[lastIdx]
}

func typeSpecifierName(spec *cc.TypeSpecifier) string {
	switch spec.Case {
	case cc.TypeSpecifierStructOrUnion:
		return parseStructOrUnionQualifier(spec.StructOrUnionSpecifier)
	case cc.TypeSpecifierEnum:
		return parseEnumQualifier(spec.EnumSpecifier)
	default:
		return spec.Token.SrcStr()
	}
}

// typedefAliases records the type named by every plain typedef in decl,
// e.g. "unsigned int" for `typedef unsigned int id_t;`. Typedefs of
// pointers, arrays and functions are left out.
func typedefAliases(decl *cc.Declaration, aliases map[string]string) {
	specs := decl.DeclarationSpecifiers
	if specs == nil || !isTypedef(specs) {
		return
	}

	var words []string
	for ; specs != nil; specs = specs.DeclarationSpecifiers {
		if specs.Case == cc.DeclarationSpecifiersTypeSpec && specs.TypeSpecifier != nil {
			words = append(words, typeSpecifierName(specs.TypeSpecifier))
		}
	}
	if len(words) == 0 {
		return
	}
	aliased := strings.Join(words, " ")

	for list := decl.InitDeclaratorList; list != nil; list = list.InitDeclaratorList {
		initDecl := list.InitDeclarator
		if initDecl == nil || initDecl.Declarator == nil {
			continue
		}

		declarator := initDecl.Declarator
		direct := declarator.DirectDeclarator
		if declarator.Pointer != nil || direct == nil ||
			direct.DirectDeclarator != nil || direct.Declarator != nil {
			continue
		}

		if name := direct.Token.SrcStr(); name != "" && name != aliased {
			aliases[name] = aliased
		}
	}
}

func parseStructOrUnionQualifier(spec *cc.StructOrUnionSpecifier) string {
	kind := spec.StructOrUnion.Token.SrcStr()
	return strings.TrimSpace(fmt.Sprintf("%s %s", kind, spec.Token.SrcStr()))
}

func parseEnumQualifier(spec *cc.EnumSpecifier) string {
	return strings.TrimSpace(fmt.Sprintf("enum %s", spec.Token2.SrcStr()))
}

// parseDeclarator builds a field out of its declarator, which tells apart
// values, pointers, arrays and function pointers.
func parseDeclarator(decl *cc.Declarator, qualifiers []string, typeName string) Field {
	direct := decl.DirectDeclarator
	basic := Basic{qualifiers, typeName, ""}

	if direct == nil {
		return basic
	}

	if direct.ParameterTypeList != nil {
		return FuncPointer{
			ReturnType: basic.Type(),
			Name:       parseFunctionPointerName(direct),
			Args:       parseParameterList(direct.ParameterTypeList),
		}
	}

	var dims []int
	for direct.DirectDeclarator != nil && direct.Token.SrcStr() == "[" {
		dims = append([]int{parseArrayLength(direct)}, dims...)
		direct = direct.DirectDeclarator
	}

	// parenthesized declarator, e.g. int (*p)[4]
	if direct.Declarator != nil {
		basic.Name = identifier(direct.Declarator)
		return Pointer{Basic: basic}
	}

	basic.Name = direct.Token.SrcStr()

	switch {
	case dims != nil:
		return Array{Basic: basic, Dims: dims, OfPointers: decl.Pointer != nil}
	case decl.Pointer != nil:
		return Pointer{basic, parsePointerQualifiers(decl.Pointer)}
	default:
		return basic
	}
}

func parsePointerQualifiers(ptr *cc.Pointer) []string {
	var qualifiers []string

	for q := ptr.TypeQualifiers; q != nil; q = q.TypeQualifiers {
		if q.TypeQualifier == nil {
			continue
		}
		qualifiers = append(qualifiers, q.TypeQualifier.Token.SrcStr())
	}

	return qualifiers
}

// parseArrayLength reads the length of one array dimension as evaluated by
// the type checker, so macros and constant expressions are accounted for.
// Unknown lengths, as in flexible array members, are -1.
func parseArrayLength(direct *cc.DirectDeclarator) int {
	if direct.AssignmentExpression == nil {
		return -1
	}

	switch length := direct.AssignmentExpression.Value().(type) {
	case cc.Int64Value:
		return int(length)
	case cc.UInt64Value:
		return int(length)
	default:
		return -1
	}
}

func parseFunctionPointerName(direct *cc.DirectDeclarator) string {
	inner := direct.DirectDeclarator
	if inner == nil || inner.Declarator == nil {
		return ""
	}
	return identifier(inner.Declarator)
}

func parseParameterList(typeList *cc.ParameterTypeList) []string {
	var args []string
	for list := typeList.ParameterList; list != nil; list = list.ParameterList {
		paramDecl := list.ParameterDeclaration
		if paramDecl == nil || paramDecl.DeclarationSpecifiers == nil {
			continue
		}

		declSpec := paramDecl.DeclarationSpecifiers
		if declSpec.TypeSpecifier == nil {
			continue
		}
		args = append(args, declSpec.TypeSpecifier.Token.SrcStr())
	}
	return args
}

// identifier digs the declared name out of a possibly nested declarator.
func identifier(decl *cc.Declarator) string {
	direct := decl.DirectDeclarator
	for direct != nil {
		if direct.Declarator != nil {
			return identifier(direct.Declarator)
		}
		if direct.DirectDeclarator == nil {
			return direct.Token.SrcStr()
		}
		direct = direct.DirectDeclarator
	}
	return ""
}
