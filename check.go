package main

import (
	"errors"
	"fmt"

	"github.com/Abathargh/padcheck/layout"
	"go.uber.org/zap"
)

// An Outcome is what checking a single aggregate produced.
type Outcome struct {
	Aggregate *Aggregate
	Report    layout.Report

	// Observed is the ground truth size, 0 when none was available.
	Observed int

	// Optimized is the layout with fields sorted by alignment, only set
	// when optimization was requested for a struct.
	Optimized *layout.Report

	// Err is set when the aggregate could not be analyzed, or when its
	// computed size does not match the observed one.
	Err error
}

// Mismatch reports whether the outcome is a size mismatch, rather than an
// aggregate that could not be analyzed at all.
func (o Outcome) Mismatch() bool {
	return errors.Is(o.Err, layout.ErrSizeMismatch)
}

// A Checker analyzes aggregates and verifies the results against a size
// source.
type Checker struct {
	Resolver *Resolver

	// Sizes is the ground truth. When nil, reports are not verified.
	Sizes SizeSource

	Optimize bool
}

// Check analyzes every aggregate that is not ignored, and returns one
// outcome per analyzed aggregate, in the same order as aggregates.
func (c *Checker) Check(aggregates []*Aggregate) []Outcome {
	var (
		selected []*Aggregate
		specs    []layout.AggregateSpec
		outcomes []Outcome
		pending  []int
	)

	for _, agg := range aggregates {
		if agg.Ignored() {
			Logger().Debug("skip ignored aggregate", zap.String("name", agg.DisplayName()))
			continue
		}
		selected = append(selected, agg)
	}

	outcomes = make([]Outcome, len(selected))
	for idx, agg := range selected {
		outcomes[idx].Aggregate = agg

		spec, err := c.Resolver.Spec(agg)
		if err != nil {
			logSkipped(agg, err)
			outcomes[idx].Err = err
			continue
		}

		specs = append(specs, spec)
		pending = append(pending, idx)
	}

	for jdx, result := range layout.AnalyzeAll(specs) {
		outcome := &outcomes[pending[jdx]]

		if result.Err != nil {
			logSkipped(outcome.Aggregate, result.Err)
			outcome.Err = result.Err
			continue
		}

		outcome.Report = result.Report
		outcome.Err = c.verify(outcome)

		if c.Optimize && result.Report.Kind == layout.Struct {
			outcome.Optimized = optimize(specs[jdx])
		}
	}

	return outcomes
}

func (c *Checker) verify(outcome *Outcome) error {
	if c.Sizes == nil {
		return nil
	}

	for _, name := range GetAggregateNames(outcome.Aggregate) {
		observed, ok := c.Sizes.Size(name)
		if !ok {
			continue
		}

		outcome.Observed = observed
		return layout.Verify(outcome.Report, observed)
	}

	Logger().Warn("no observed size, layout not verified",
		zap.String("name", outcome.Aggregate.DisplayName()))
	return nil
}

func optimize(spec layout.AggregateSpec) *layout.Report {
	spec.Fields = layout.Reorder(spec.Fields)

	report, err := layout.Analyze(spec)
	if err != nil {
		return nil
	}
	return &report
}

func logSkipped(agg *Aggregate, err error) {
	fields := []zap.Field{zap.String("name", agg.DisplayName()), zap.Error(err)}

	switch {
	case errors.Is(err, layout.ErrInvalidSpec):
		Logger().Error("invalid aggregate", fields...)
	default:
		Logger().Warn("skip aggregate", fields...)
	}
}

// mismatchError summarizes every size mismatch in outcomes, or returns nil
// if there is none.
func mismatchError(outcomes []Outcome) error {
	var errs []error
	for _, outcome := range outcomes {
		if outcome.Mismatch() {
			errs = append(errs, outcome.Err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d aggregate(s) failed verification: %w", len(errs), errors.Join(errs...))
}
