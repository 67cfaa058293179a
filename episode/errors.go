package episode

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInfeasible is the cause of every error reporting
// that an episode cannot be drawn from the data.
// It signals a mismatch between configuration and data,
// so it must never be retried or ignored.
var ErrInfeasible = errors.New("episode sampling infeasible")

// An InfeasibleError reports a category with too few
// examples, or too few categories, for an episode shape.
type InfeasibleError struct {
	// Category is -1 when the problem is the number of
	// categories rather than a single category.
	Category int
	Have     int
	Need     int
	What     string
}

func (i *InfeasibleError) Error() string {
	if i.Category < 0 {
		return fmt.Sprintf("%s: need %d %s but only %d available",
			ErrInfeasible, i.Need, i.What, i.Have)
	}
	return fmt.Sprintf("%s: category %d has %d %s but %d are needed",
		ErrInfeasible, i.Category, i.Have, i.What, i.Need)
}

// Cause returns ErrInfeasible so errors.Cause can match
// any InfeasibleError.
func (i *InfeasibleError) Cause() error {
	return ErrInfeasible
}

// IsInfeasible checks if an error, possibly wrapped,
// was caused by an infeasible episode.
func IsInfeasible(err error) bool {
	return errors.Cause(err) == ErrInfeasible
}
