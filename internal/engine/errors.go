package engine

import (
	"fmt"
	"time"

	"github.com/candle-sync/pkg/models"
)

// StorageError reports an unreadable or unwritable record store. During
// the analysis phase it is fatal to the asset's run: no plan can be
// trusted without a valid coverage snapshot.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PlanningInvariantViolation reports two plan tasks targeting
// overlapping ranges with conflicting strategies, or a consolidate task
// ordered before a merge task. This is a planner defect and fails the
// run loudly instead of being silently resolved.
type PlanningInvariantViolation struct {
	Reason string
	TaskA  models.FetchTask
	TaskB  models.FetchTask
}

func (e *PlanningInvariantViolation) Error() string {
	return fmt.Sprintf("planning invariant violated: %s: [%s] vs [%s]", e.Reason, e.TaskA, e.TaskB)
}

// ConsolidationPartialFailure reports a consolidation pass that stopped
// on a failing day. Days before FirstFailedDay are fully consolidated;
// days from it onward are untouched and can be retried in isolation.
type ConsolidationPartialFailure struct {
	DaysSucceeded  int
	DaysFailed     int
	FirstFailedDay time.Time
	Err            error
}

func (e *ConsolidationPartialFailure) Error() string {
	return fmt.Sprintf("consolidation stopped at %s after %d day(s): %v (%d day(s) left unconsolidated)",
		e.FirstFailedDay.Format("2006-01-02"), e.DaysSucceeded, e.Err, e.DaysFailed)
}

func (e *ConsolidationPartialFailure) Unwrap() error {
	return e.Err
}
