package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Abathargh/padcheck/layout"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	entryWidth     = 12
	titleWidth     = entryWidth*5 + 4 // 5 entries per row + borders
	structBoxWidth = entryWidth*3 - 4 // 2 boxes per row

	headerColorHex   = "#ececec"
	entryColorHex    = "#aeaeae"
	paddingColorHex  = "#e5c07b"
	mismatchColorHex = "#e06c75"

	noValue = "-"
)

var (
	headerColor   = lipgloss.Color(headerColorHex)
	entryColor    = lipgloss.Color(entryColorHex)
	paddingColor  = lipgloss.Color(paddingColorHex)
	mismatchColor = lipgloss.Color(mismatchColorHex)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Width(entryWidth).
			Foreground(headerColor).
			Align(lipgloss.Center)

	aggregateStyle = lipgloss.NewStyle().
			Bold(true).
			Width(entryWidth).
			Foreground(entryColor).
			Align(lipgloss.Center)

	rowStyle = lipgloss.NewStyle().
			Bold(false).
			Width(entryWidth).
			Foreground(entryColor).
			Align(lipgloss.Center)

	titleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Width(titleWidth).
			Foreground(entryColor).
			Align(lipgloss.Center)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Width(structBoxWidth).
			Margin(0, 1, 1, 0).
			Padding(1, 1, 1, 2).
			Align(lipgloss.Left)

	paddingStyle  = lipgloss.NewStyle().Foreground(paddingColor)
	mismatchStyle = lipgloss.NewStyle().Bold(true).Foreground(mismatchColor)
	okStyle       = lipgloss.NewStyle().Foreground(entryColor)

	baseStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B29BC5"))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#747893"))
)

// A Renderer prints check outcomes, either as the plain diagnostic stream
// (Bare) or as styled tables.
type Renderer struct {
	Out     io.Writer
	Bare    bool
	Verbose bool
}

// Title prints the heading of a run.
func (r *Renderer) Title(title string) {
	if r.Bare {
		return
	}
	fmt.Fprintln(r.Out, titleBox.Render(title))
}

// Outcome prints the report of one aggregate. Aggregates that could not be
// analyzed are not printed, the reason has already been logged.
func (r *Renderer) Outcome(outcome Outcome) {
	if outcome.Err != nil && !outcome.Mismatch() {
		return
	}

	if r.Bare {
		r.bare(outcome)
	} else {
		r.pretty(outcome)
	}

	if outcome.Optimized != nil {
		r.optimized(outcome)
	}
}

func (r *Renderer) bare(outcome Outcome) {
	report := outcome.Report

	fmt.Fprintf(r.Out, "Checking `%s`...\n", report.Name)
	if r.Verbose {
		fmt.Fprintf(r.Out, "%s, size: %d, alignment: %d, padding: %d\n",
			report.Name, report.Size, report.Alignment, report.Padding())
	}

	for _, line := range report.Diagnostics() {
		fmt.Fprintln(r.Out, line)
	}

	if outcome.Mismatch() {
		fmt.Fprintln(r.Out, outcome.Err)
	}
}

func (r *Renderer) pretty(outcome Outcome) {
	report := outcome.Report

	t := makeTable()
	t.Row(report.Name, noValue, strconv.Itoa(report.Size),
		strconv.Itoa(report.Alignment), strconv.Itoa(report.Padding()))

	for _, field := range report.Fields {
		t.Row(
			declarationOf(outcome.Aggregate, field.Name),
			strconv.Itoa(field.Offset),
			strconv.Itoa(field.Size),
			strconv.Itoa(field.Alignment),
			strconv.Itoa(paddingBefore(report, field.Name)),
		)
	}

	if trailing := report.PaddingBefore(""); trailing > 0 {
		t.Row("<end>", strconv.Itoa(report.Size-trailing), noValue, noValue,
			strconv.Itoa(trailing))
	}

	fmt.Fprintln(r.Out, t)

	for _, line := range report.Diagnostics() {
		fmt.Fprintln(r.Out, paddingStyle.Render(line))
	}

	switch {
	case outcome.Mismatch():
		fmt.Fprintln(r.Out, mismatchStyle.Render(outcome.Err.Error()))
	case outcome.Observed > 0 && r.Verbose:
		fmt.Fprintln(r.Out, okStyle.Render(
			fmt.Sprintf("verified: %d bytes, as observed", outcome.Observed)))
	}
	fmt.Fprintln(r.Out)
}

func (r *Renderer) optimized(outcome Outcome) {
	var (
		current = outcome.Report
		opt     = *outcome.Optimized
	)

	if opt.Size >= current.Size {
		fmt.Fprintln(r.Out, "The passed layout is already minimal")
		return
	}

	if r.Bare {
		fmt.Fprintf(r.Out, "(opt) %s, size: %d, alignment: %d, padding: %d\n",
			opt.Name, opt.Size, opt.Alignment, opt.Padding())
		for _, placed := range opt.Fields {
			if field := fieldOf(outcome.Aggregate, placed.Name); field != nil {
				fmt.Fprintf(r.Out, "(opt) %s %s\n", declaredType(field), sourceDeclaration(field, placed.Name))
			} else {
				fmt.Fprintf(r.Out, "(opt) %s\n", placed.Name)
			}
		}
		return
	}

	fmt.Fprintln(r.Out, lipgloss.JoinHorizontal(
		lipgloss.Top,
		printAggregate(outcome.Aggregate, current, false),
		printAggregate(outcome.Aggregate, opt, true),
	))
	fmt.Fprintf(r.Out, "%d bytes saved (%d -> %d)\n\n",
		current.Size-opt.Size, current.Size, opt.Size)
}

func makeTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return headerStyle
			case row == 0:
				return aggregateStyle
			default:
				return rowStyle
			}
		}).
		Headers("Name", "Offset", "Size", "Alignment", "Padding")
}

// paddingBefore returns the padding right before an inter-field position,
// never the trailing one.
func paddingBefore(report layout.Report, name string) int {
	if name == "" {
		return 0
	}
	return report.PaddingBefore(name)
}

func fieldOf(agg *Aggregate, name string) Field {
	if agg == nil {
		return nil
	}
	for idx, fieldName := range agg.FieldNames() {
		if fieldName == name {
			return agg.Fields[idx]
		}
	}
	return nil
}

func declarationOf(agg *Aggregate, name string) string {
	if field := fieldOf(agg, name); field != nil && field.Ident() != "" {
		return field.Declaration()
	}
	return name
}

// sourceDeclaration is the declaration of field as printed in C source,
// where anonymous members only carry their name in a comment.
func sourceDeclaration(field Field, name string) string {
	if field.Ident() == "" {
		return fmt.Sprintf("/* %s */", name)
	}
	return field.Declaration()
}

func printAggregate(agg *Aggregate, report layout.Report, opt bool) string {
	var builder RenderBuilder
	if !opt {
		builder.WriteComment(fmt.Sprintf("// current, %d bytes", report.Size))
	} else {
		builder.WriteComment(fmt.Sprintf("// optimized, %d bytes", report.Size))
	}

	builder.WriteNewline()
	builder.WriteKeyword(report.Name)
	builder.WriteBase(" {")
	builder.WriteNewline()
	for _, placed := range report.Fields {
		field := fieldOf(agg, placed.Name)
		if field == nil {
			continue
		}

		var (
			rType = keywordStyle.Render(declaredType(field))
			rDecl = baseStyle.Render(sourceDeclaration(field, placed.Name))
			rSemi = baseStyle.Render(";")
		)

		fmt.Fprintf(&builder, "\t%s %s%s\n", rType, rDecl, rSemi)
	}

	builder.WriteBase("};")
	return builder.String()
}

// declaredType returns the part of a declaration that precedes the field
// name, e.g. "int *" for a pointer or "int" for an array of ints.
func declaredType(field Field) string {
	switch f := field.(type) {
	case Array:
		if f.OfPointers {
			return f.Basic.Type() + " *"
		}
		return f.Basic.Type()
	case FuncPointer:
		return f.ReturnType
	default:
		return strings.TrimSpace(field.Type())
	}
}

// A RenderBuilder accumulates styled C source and renders it in a box.
type RenderBuilder struct {
	strings.Builder
}

func (b *RenderBuilder) WriteBase(s string) {
	b.Builder.WriteString(baseStyle.Render(s))
}

func (b *RenderBuilder) WriteKeyword(s string) {
	b.Builder.WriteString(keywordStyle.Render(s))
}

func (b *RenderBuilder) WriteComment(s string) {
	b.Builder.WriteString(commentStyle.Render(s))
}

func (b *RenderBuilder) WriteNewline() {
	b.Builder.WriteRune('\n')
}

func (b *RenderBuilder) String() string {
	return boxStyle.Render(b.Builder.String())
}
