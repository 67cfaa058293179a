package checkpoint

import (
	"fmt"
	"strings"
)

// A ResolutionError reports a selector which matches no
// checkpoint, or more than one.
type ResolutionError struct {
	Dir      string
	Role     string
	Selector Selector
	Matches  []string
	Reason   string
}

func (r *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve checkpoint %s for %s in %s: %s", r.Selector, r.Role,
		r.Dir, r.Reason)
	if len(r.Matches) > 0 {
		msg += " (" + strings.Join(r.Matches, ", ") + ")"
	}
	return msg
}
