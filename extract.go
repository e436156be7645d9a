package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/Abathargh/padcheck/layout"
	"go.uber.org/zap"
	"modernc.org/cc/v4"
)

const defaultSourceName = "<input>"

var (
	ErrUnsupported = errors.New("unsupported aggregate")
	ErrNoFields    = errors.New("no fields to analyze")
	ErrUnresolved  = errors.New("cannot resolve field type")
	ErrCycle       = errors.New("aggregate contains itself")
)

// maxTypedefDepth bounds the chains of typedefs followed by the resolver.
const maxTypedefDepth = 16

// A Header is what the analysis needs out of a translation unit.
type Header struct {
	// Aggregates are the structs and unions defined in the source itself,
	// in declaration order.
	Aggregates []*Aggregate
	// Typedefs maps every plain typedef name, included headers too, to
	// the type it stands for.
	Typedefs map[string]string
}

// ExtractHeader parses the C source cont and returns the structs and
// unions it defines. Aggregates coming from included headers are left out,
// their typedefs are not. Each entry of defines is a NAME or NAME=VALUE
// macro definition, prepended to the source.
func ExtractHeader(fname, cont string, defines []string) (*Header, error) {
	config, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("could not create a config for the parser: %w", err)
	}

	if fname == "" {
		fname = defaultSourceName
	}

	srcs := []cc.Source{
		{Name: "<predefined>", Value: config.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
	}

	if len(defines) != 0 {
		srcs = append(srcs, cc.Source{Name: "<defines>", Value: defineLines(defines)})
	}
	srcs = append(srcs, cc.Source{Name: fname, Value: cont})

	ast, err := cc.Translate(config, srcs)
	if err != nil {
		return nil, fmt.Errorf("could not extract aggregates: %w", err)
	}

	header := &Header{Typedefs: make(map[string]string)}

	for l := ast.TranslationUnit; l != nil; l = l.TranslationUnit {
		ed := l.ExternalDeclaration
		if ed == nil || ed.Case != cc.ExternalDeclarationDecl || ed.Declaration == nil {
			continue
		}

		typedefAliases(ed.Declaration, header.Typedefs)

		if ed.Position().Filename != fname {
			continue
		}

		agg, err := ParseAggregate(ed.Declaration)
		if err != nil {
			continue
		}

		Logger().Debug("found aggregate",
			zap.String("name", agg.DisplayName()),
			zap.Stringer("kind", agg.Kind),
			zap.Int("fields", len(agg.Fields)))
		header.Aggregates = append(header.Aggregates, agg)
	}

	return header, nil
}

func defineLines(defines []string) string {
	var builder strings.Builder
	for _, define := range defines {
		name, value, _ := strings.Cut(define, "=")
		fmt.Fprintf(&builder, "#define %s %s\n", name, value)
	}
	return builder.String()
}

// Ignored reports whether a name follows the convention for members and
// types that must not be analyzed: anonymous, or starting with an
// underscore.
func Ignored(name string) bool {
	return name == "" || strings.HasPrefix(name, "_")
}

// Ignored reports whether the aggregate itself must be skipped, based on the
// name a user would refer to it by.
func (a *Aggregate) Ignored() bool {
	if a.Typedef != "" {
		return Ignored(a.Typedef)
	}
	_, tag, _ := strings.Cut(a.Name, " ")
	return Ignored(tag)
}

// A Resolver turns parsed aggregates into layout specs, resolving the size
// and alignment of each field.
//
// With a nil Platform, sizes and alignments are the ones computed by the C
// type checker for the host. Otherwise they come from the platform tables,
// with nested aggregates laid out recursively and typedefs followed through
// Typedefs, or through the C type of the member.
type Resolver struct {
	Platform    *Platform
	KeepIgnored bool
	Typedefs    map[string]string

	byName    map[string]*Aggregate
	cache     map[*Aggregate]TypeMeta
	resolving map[*Aggregate]bool
}

// NewResolver creates a resolver able to look up the passed aggregates by
// any of their names.
func NewResolver(aggregates []*Aggregate, platform *Platform, keepIgnored bool) *Resolver {
	r := &Resolver{
		Platform:    platform,
		KeepIgnored: keepIgnored,
		byName:      make(map[string]*Aggregate),
		cache:       make(map[*Aggregate]TypeMeta),
		resolving:   make(map[*Aggregate]bool),
	}

	for _, agg := range aggregates {
		for _, name := range GetAggregateNames(agg) {
			if _, ok := r.byName[name]; !ok {
				r.byName[name] = agg
			}
		}
	}
	return r
}

// Lookup returns the aggregate known by name.
func (r *Resolver) Lookup(name string) (*Aggregate, bool) {
	agg, ok := r.byName[name]
	return agg, ok
}

// Spec builds the layout spec of agg. Ignored members are left out: union
// members always, struct members unless KeepIgnored is set. Anonymous
// struct and union members are kept, named as by FieldNames.
func (r *Resolver) Spec(agg *Aggregate) (layout.AggregateSpec, error) {
	return r.spec(agg, false)
}

// spec builds the layout spec of agg. A nested aggregate keeps every
// member, since all of them take space in the enclosing one.
func (r *Resolver) spec(agg *Aggregate, nested bool) (layout.AggregateSpec, error) {
	spec := layout.AggregateSpec{Name: agg.DisplayName(), Kind: agg.Kind}

	if agg.Bitfields {
		return spec, fmt.Errorf("%w: %s has bit-fields", ErrUnsupported, spec.Name)
	}

	names := agg.FieldNames()
	for idx, field := range agg.Fields {
		name := names[idx]

		if !nested && field.Ident() != "" && Ignored(name) &&
			(agg.Kind == layout.Union || !r.KeepIgnored) {
			Logger().Debug("ignore field",
				zap.String("aggregate", spec.Name), zap.String("field", name))
			continue
		}

		meta, err := r.fieldMeta(agg, name, field)
		if err != nil {
			return spec, fmt.Errorf("%s: field %q: %w", spec.Name, name, err)
		}

		spec.Fields = append(spec.Fields, layout.FieldSpec{
			Name:      name,
			Size:      meta.Size,
			Alignment: meta.Alignment,
		})
	}

	if len(spec.Fields) == 0 {
		return spec, fmt.Errorf("%w: %s", ErrNoFields, spec.Name)
	}

	return spec, nil
}

// fieldMeta resolves the size and alignment of a single field. Types the
// platform tables do not name are resolved from the C type of the member,
// and only fall back to the host layout when that fails too.
func (r *Resolver) fieldMeta(agg *Aggregate, name string, field Field) (TypeMeta, error) {
	if r.Platform == nil {
		return r.hostMeta(agg, name, field)
	}

	switch f := field.(type) {
	case FuncPointer, Pointer:
		return r.Platform.Pointer, nil
	case Array:
		elems := f.Elements()
		if elems < 0 {
			break
		}

		if f.OfPointers {
			elem := r.Platform.Pointer
			return TypeMeta{Size: elem.Size * elems, Alignment: elem.Alignment}, nil
		}

		elem, found, err := r.typeMeta(f.Basic.Type())
		if err != nil {
			return TypeMeta{}, err
		}
		if found {
			return TypeMeta{Size: elem.Size * elems, Alignment: elem.Alignment}, nil
		}
	case Basic:
		meta, found, err := r.typeMeta(f.Type())
		if err != nil || found {
			return meta, err
		}
	default:
		return TypeMeta{}, fmt.Errorf("%w: %T", ErrUnresolved, field)
	}

	meta, found, err := r.ccTypeMeta(agg.types[name])
	if err != nil || found {
		return meta, err
	}

	Logger().Debug("type unknown to the platform, using host layout",
		zap.String("aggregate", agg.DisplayName()), zap.String("field", name))
	return r.hostMeta(agg, name, field)
}

// typeMeta resolves a named C type under the selected platform. The second
// return value is false when neither the platform, the aggregates nor the
// typedefs know the type.
func (r *Resolver) typeMeta(typeName string) (TypeMeta, bool, error) {
	for range maxTypedefDepth {
		typeName = stripQualifiers(typeName)

		if typeName == "enum" || strings.HasPrefix(typeName, "enum ") {
			return r.Platform.Enum, true, nil
		}

		if meta, ok := r.Platform.Lookup(typeName); ok {
			return meta, true, nil
		}

		if nested, ok := r.byName[typeName]; ok {
			meta, err := r.aggregateMeta(nested)
			return meta, err == nil, err
		}

		aliased, ok := r.Typedefs[typeName]
		if !ok {
			break
		}
		typeName = aliased
	}
	return TypeMeta{}, false, nil
}

// kindFamilies maps the scalar kinds of the C type checker to the platform
// type standing for them.
var kindFamilies = map[cc.Kind]string{
	cc.Bool:       "_Bool",
	cc.Char:       "char",
	cc.SChar:      "signed char",
	cc.UChar:      "unsigned char",
	cc.Short:      "short",
	cc.UShort:     "unsigned short",
	cc.Int:        "int",
	cc.UInt:       "unsigned int",
	cc.Long:       "long",
	cc.ULong:      "unsigned long",
	cc.LongLong:   "long long",
	cc.ULongLong:  "unsigned long long",
	cc.Float:      "float",
	cc.Double:     "double",
	cc.LongDouble: "long double",
}

// ccTypeMeta resolves a C type, as computed by the type checker, under the
// selected platform. A typedef name is looked up first, then the kind of
// the type is mapped to its platform family.
func (r *Resolver) ccTypeMeta(typ cc.Type) (TypeMeta, bool, error) {
	if typ == nil {
		return TypeMeta{}, false, nil
	}

	if name := typ.Typedef().Name(); name != "" {
		if meta, found, err := r.typeMeta(name); err != nil || found {
			return meta, found, err
		}
	}

	switch typ.Kind() {
	case cc.Ptr:
		return r.Platform.Pointer, true, nil
	case cc.Enum:
		return r.Platform.Enum, true, nil
	case cc.Array:
		arr, ok := typ.(*cc.ArrayType)
		if !ok || arr.IsVLA() || arr.IsIncomplete() || arr.Len() < 0 {
			return TypeMeta{}, false, nil
		}
		elem, found, err := r.ccTypeMeta(arr.Elem())
		if err != nil || !found {
			return TypeMeta{}, false, err
		}
		return TypeMeta{Size: elem.Size * int(arr.Len()), Alignment: elem.Alignment}, true, nil
	case cc.Struct, cc.Union:
		return r.ccAggregateMeta(typ)
	}

	if family, ok := kindFamilies[typ.Kind()]; ok {
		meta, found := r.Platform.Lookup(family)
		return meta, found, nil
	}
	return TypeMeta{}, false, nil
}

// ccAggregateMeta lays out a struct or union type. Tagged aggregates
// defined in the source are resolved by name, the others, such as
// anonymous members, straight from the fields of the type.
func (r *Resolver) ccAggregateMeta(typ cc.Type) (TypeMeta, bool, error) {
	var (
		kind = layout.Struct
		tag  string
	)

	switch t := typ.(type) {
	case *cc.StructType:
		tok := t.Tag()
		tag = tok.SrcStr()
		if tag != "" {
			tag = "struct " + tag
		}
	case *cc.UnionType:
		kind = layout.Union
		tok := t.Tag()
		tag = tok.SrcStr()
		if tag != "" {
			tag = "union " + tag
		}
	}

	if nested, ok := r.byName[tag]; tag != "" && ok {
		meta, err := r.aggregateMeta(nested)
		return meta, err == nil, err
	}

	fields, ok := typ.(fieldLister)
	if !ok {
		return TypeMeta{}, false, nil
	}

	spec := layout.AggregateSpec{Name: typ.String(), Kind: kind}
	for idx := range fields.NumFields() {
		field := fields.FieldByIndex(idx)
		if field == nil {
			continue
		}
		if field.IsBitfield() {
			return TypeMeta{}, false, fmt.Errorf("%w: %s has bit-fields", ErrUnsupported, spec.Name)
		}

		meta, found, err := r.ccTypeMeta(field.Type())
		if err != nil {
			return TypeMeta{}, false, err
		}
		if !found {
			if meta, found = typeMetaOf(field.Type()); !found {
				return TypeMeta{}, false, fmt.Errorf("%w: %s", ErrUnresolved, field.Type())
			}
		}

		spec.Fields = append(spec.Fields, layout.FieldSpec{
			Name:      field.Name(),
			Size:      meta.Size,
			Alignment: meta.Alignment,
		})
	}

	report, err := layout.Analyze(spec)
	if err != nil {
		return TypeMeta{}, false, err
	}
	return TypeMeta{Size: report.Size, Alignment: report.Alignment}, true, nil
}

// aggregateMeta lays out a nested aggregate to find out its own size and
// alignment. Results are cached, so each aggregate is analyzed once.
func (r *Resolver) aggregateMeta(agg *Aggregate) (TypeMeta, error) {
	if meta, ok := r.cache[agg]; ok {
		return meta, nil
	}

	if r.resolving[agg] {
		return TypeMeta{}, fmt.Errorf("%w: %s", ErrCycle, agg.DisplayName())
	}
	r.resolving[agg] = true
	defer delete(r.resolving, agg)

	spec, err := r.spec(agg, true)
	if err != nil {
		return TypeMeta{}, err
	}

	report, err := layout.Analyze(spec)
	if err != nil {
		return TypeMeta{}, err
	}

	meta := TypeMeta{Size: report.Size, Alignment: report.Alignment}
	r.cache[agg] = meta
	return meta, nil
}

func (r *Resolver) hostMeta(agg *Aggregate, name string, field Field) (TypeMeta, error) {
	meta, ok := agg.members[name]
	if !ok || meta.Alignment <= 0 || meta.Size < 0 {
		return TypeMeta{}, fmt.Errorf("%w: %s", ErrUnresolved, field.Type())
	}
	return meta, nil
}
