package index

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrInvalidArgument returned for empty document ids, before any request is made
var ErrInvalidArgument = errors.New("invalid argument")

// ErrBulkAborted returned by outermost Commit if one of nested scopes was released without commit
var ErrBulkAborted = errors.New("bulk batch aborted by nested scope")

// BulkFailure describes one failed item of bulk response
type BulkFailure struct {
	Action string
	ID     string
	Status int
	Type   string
	Reason string
}

func (f BulkFailure) Error() string {
	return fmt.Sprintf("%s %q failed with %d, %s: %s", f.Action, f.ID, f.Status, f.Type, f.Reason)
}

// BulkError returned when bulk response reports failed items.
// Whole flush is reported as one error, even if only some items failed.
type BulkError struct {
	Failures []BulkFailure
	raw      string // failed items as returned by engine
}

func (e *BulkError) Error() string {
	return "bulk request failed: " + e.raw
}

// Causes returns failures as multierror
func (e *BulkError) Causes() error {
	errs := new(multierror.Error)
	for _, f := range e.Failures {
		errs = multierror.Append(errs, f)
	}
	return errs.ErrorOrNil()
}

// InvalidScrollError returned when engine rejects scroll request as malformed
type InvalidScrollError struct {
	Reason string
}

func (e *InvalidScrollError) Error() string {
	return "invalid scroll: " + e.Reason
}

// ExpiredScrollError returned when scroll context does not exist anymore on the engine side
type ExpiredScrollError struct {
	ScrollID string
	Reason   string
}

func (e *ExpiredScrollError) Error() string {
	return fmt.Sprintf("scroll %q expired: %s", e.ScrollID, e.Reason)
}
