package index

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// EnableDeferring makes mutations inside bulk scopes queued into the batch
func (idx *Index) EnableDeferring() {
	idx.deferring = true
	if idx.depth > 0 && idx.batch == nil {
		idx.batch = &bulkBatch{}
	}
}

// DisableDeferring makes all mutations immediate, even inside bulk scopes.
// Actions queued before stay in the batch and flushed with the outermost scope.
func (idx *Index) DisableDeferring() {
	idx.deferring = false
}

// Deferring reports if deferring is enabled
func (idx *Index) Deferring() bool {
	return idx.deferring
}

// WithoutDeferring runs fn with deferring disabled and restores previous state on exit
func (idx *Index) WithoutDeferring(fn func() error) error {
	prev := idx.deferring
	idx.deferring = false
	defer func() { idx.deferring = prev }()
	return fn()
}

// ResetDeferring drops pending batch and open scopes
func (idx *Index) ResetDeferring() {
	if idx.batch != nil && !idx.batch.IsEmpty() {
		log.Printf("[WARN] reset %s drops %d pending actions", idx.alias, idx.batch.Len())
	}
	idx.batch = nil
	idx.depth = 0
	idx.aborted = false
}

// CurrentBulkBatch returns actions pending in the batch, nil outside of bulk scope
// or with deferring disabled
func (idx *Index) CurrentBulkBatch() []BulkAction {
	if !idx.deferring || idx.batch == nil {
		return nil
	}
	return idx.batch.Current()
}

// Depth returns number of open bulk scopes
func (idx *Index) Depth() int {
	return idx.depth
}

func (idx *Index) deferred() bool {
	return idx.deferring && idx.depth > 0
}

func (idx *Index) enqueue(action BulkAction) {
	if idx.batch == nil {
		idx.batch = &bulkBatch{}
	}
	idx.batch.Append(action)
}

// BulkScope is a guard of one deferral level. Commit on success, Release in defer.
//
//	scope := idx.BeginBulk()
//	defer scope.Release()
//	... mutations ...
//	return scope.Commit(ctx)
type BulkScope struct {
	idx    *Index
	closed bool
}

// BeginBulk opens deferral scope. Nested scopes share the batch,
// it is flushed when the outermost scope is committed.
func (idx *Index) BeginBulk() *BulkScope {
	idx.depth++
	if idx.depth == 1 && idx.deferring {
		idx.batch = &bulkBatch{}
	}
	return &BulkScope{idx: idx}
}

// Commit closes scope successfully. The outermost scope flushes the batch
// in one bulk request and clears it, on success and on failure.
func (s *BulkScope) Commit(ctx context.Context) error {
	if s.closed {
		return errors.New("bulk scope already closed")
	}
	s.closed = true
	return s.idx.leave(ctx, true)
}

// Release closes scope without commit, does nothing if Commit was called.
// Uncommitted scope aborts the whole batch, it is discarded by the outermost scope.
func (s *BulkScope) Release() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.idx.leave(context.Background(), false)
}

// Bulk runs fn inside deferral scope. Error returned by fn discards the batch.
func (idx *Index) Bulk(ctx context.Context, fn func() error) error {
	scope := idx.BeginBulk()
	defer scope.Release()
	if err := fn(); err != nil {
		return err
	}
	return scope.Commit(ctx)
}

func (idx *Index) leave(ctx context.Context, commit bool) error {
	if idx.depth == 0 {
		return nil // reset while scope was open
	}
	if !commit {
		idx.aborted = true
	}
	idx.depth--
	if idx.depth > 0 {
		return nil
	}

	batch, aborted := idx.batch, idx.aborted
	idx.batch, idx.aborted = nil, false

	if aborted {
		if batch != nil && !batch.IsEmpty() {
			log.Printf("[WARN] discard %d pending actions of %s", batch.Len(), idx.alias)
			idx.metrics.bulkDiscarded(idx.alias, batch.Len())
		}
		if commit {
			return ErrBulkAborted
		}
		return nil
	}

	if batch == nil || batch.IsEmpty() {
		return nil
	}
	return idx.flush(ctx, batch.Drain())
}

type bulkResponse struct {
	Took   int               `json:"took"`
	Errors bool              `json:"errors"`
	Items  []json.RawMessage `json:"items"`
}

type bulkResponseItem struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (idx *Index) flush(ctx context.Context, actions []BulkAction) error {
	codec := idx.conn.Codec()
	body, err := encodeBulk(codec, actions)
	if err != nil {
		return err
	}

	start := time.Now()
	var resp bulkResponse
	err = idx.conn.Bulk(ctx, body, &resp)
	idx.metrics.bulkFlushed(idx.alias, actions, err == nil && !resp.Errors, time.Since(start))
	if err != nil {
		return errors.Wrapf(err, "failed to flush %d actions to %s", len(actions), idx.alias)
	}
	if resp.Errors {
		return newBulkError(codec, resp.Items)
	}
	log.Printf("[DEBUG] flushed %d actions to %s in %v", len(actions), idx.alias, time.Since(start))
	return nil
}

func newBulkError(codec elastic.Codec, items []json.RawMessage) error {
	res := &BulkError{}
	raw := make([]string, 0, len(items))
	for _, item := range items {
		var parsed map[string]bulkResponseItem
		if err := codec.Unmarshal(item, &parsed); err != nil {
			return errors.Wrap(err, "error parsing bulk response item")
		}
		failed := false
		for action, r := range parsed {
			if r.Error == nil {
				continue
			}
			failed = true
			res.Failures = append(res.Failures, BulkFailure{Action: action, ID: r.ID, Status: r.Status,
				Type: r.Error.Type, Reason: r.Error.Reason})
		}
		if failed {
			raw = append(raw, string(item))
		}
	}
	res.raw = "[" + strings.Join(raw, ",") + "]"
	return res
}
