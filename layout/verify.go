package layout

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSpec  = errors.New("invalid aggregate spec")
	ErrSizeMismatch = errors.New("size mismatch")
)

// A SizeMismatchError is returned by Verify when the computed size of an
// aggregate differs from the observed one.
type SizeMismatchError struct {
	Name     string
	Computed int
	Observed int
}

func (e *SizeMismatchError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: computed %d, observed %d",
			ErrSizeMismatch, e.Computed, e.Observed)
	}
	return fmt.Sprintf("%s: %s: computed %d, observed %d",
		ErrSizeMismatch, e.Name, e.Computed, e.Observed)
}

// Is makes every SizeMismatchError match ErrSizeMismatch.
func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// Verify checks the size computed in report against the observed size.
func Verify(report Report, observed int) error {
	if report.Size == observed {
		return nil
	}
	return &SizeMismatchError{
		Name:     report.Name,
		Computed: report.Size,
		Observed: observed,
	}
}

func invalidSpec(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}
