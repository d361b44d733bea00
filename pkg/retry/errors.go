package retry

import (
	"errors"
	"fmt"

	oerrors "github.com/porthorian/sessionguard/pkg/errors"
)

var ErrBudgetExceeded = errors.New("retry budget exceeded")

// ExceededError ends an episode that used up its attempt budget. It wraps the
// last failure and keeps the per-category failure counts.
type ExceededError struct {
	Operation string
	EpisodeID string
	Budget    int
	Counts    map[Category]int
	Err       error
}

func (e *ExceededError) Error() string {
	ledger := &Ledger{counts: e.Counts}
	return fmt.Sprintf("%s: %d attempts failed %s (episode %s): %v", e.Operation, e.Budget, ledger, e.EpisodeID, e.Err)
}

func (e *ExceededError) Unwrap() error {
	return e.Err
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

func (e *ExceededError) ErrorCode() oerrors.Code {
	return oerrors.CodeRetryBudgetExceeded
}
