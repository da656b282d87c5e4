package index

import (
	"context"
	"runtime"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ReindexParams to configure Reindex
type ReindexParams struct {
	BatchSize int  // scroll page size, 500 by default
	Workers   int  // parallel bulk requests, number of cpus by default
	DeleteOld bool // delete indices alias pointed to before
}

// ReindexResult describes completed reindex
type ReindexResult struct {
	NewIndex string
	Indexed  uint64
	Deleted  []string
}

// Reindex copies all documents of the alias into new physical index with current mapping
// and deploys alias to it. On any failure alias is untouched and new index is kept for inspection.
func (idx *Index) Reindex(ctx context.Context, params ReindexParams) (*ReindexResult, error) {
	if params.BatchSize == 0 {
		params.BatchSize = 500
	}

	old, err := idx.AliasedNames(ctx)
	if err != nil {
		return nil, err
	}
	newName, err := idx.Create(ctx, "")
	if err != nil {
		return nil, err
	}

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	var indexed uint64
	errs := new(multierror.Error)
	appendErr := func(e error) {
		mu.Lock()
		errs = multierror.Append(errs, e)
		mu.Unlock()
	}

	// pages go through the typed bulk path, documents keep the type of the index
	copyPage := func(actions []BulkAction) error {
		ok := len(actions)
		err := idx.flush(ctx, actions)
		var bulkErr *BulkError
		switch {
		case errors.As(err, &bulkErr):
			ok -= len(bulkErr.Failures)
			appendErr(bulkErr.Causes())
		case err != nil:
			ok = 0
			appendErr(err)
		}
		mu.Lock()
		indexed += uint64(ok)
		mu.Unlock()
		return nil
	}

	enum, err := idx.BuildScrollEnumerator(ScrollParams{BatchSize: params.BatchSize})
	if err != nil {
		return nil, err
	}
	grp := syncs.NewErrSizedGroup(workers)
	scrollErr := enum.EachSlice(ctx, func(hits []Hit) error {
		actions := make([]BulkAction, 0, len(hits))
		for _, h := range hits {
			actions = append(actions, BulkAction{Type: ActionIndex, Index: newName, DocType: idx.typeName, ID: h.ID, Doc: h.Source})
		}
		grp.Go(func() error { return copyPage(actions) })
		return nil
	})
	_ = grp.Wait() // failures collected by copyPage
	if scrollErr != nil {
		appendErr(scrollErr)
	}

	if err = errs.ErrorOrNil(); err != nil {
		log.Printf("[WARN] reindex of %s to %s failed, %d indexed", idx.alias, newName, indexed)
		return nil, errors.Wrapf(err, "reindex of %s to %s failed", idx.alias, newName)
	}

	if err = idx.Deploy(ctx, newName); err != nil {
		return nil, err
	}
	res := &ReindexResult{NewIndex: newName, Indexed: indexed}
	log.Printf("[INFO] reindexed %d documents of %s to %s", indexed, idx.alias, newName)

	if !params.DeleteOld {
		return res, nil
	}
	delErrs := new(multierror.Error)
	for _, name := range old {
		if name == newName {
			continue
		}
		if e := idx.DeleteIndex(ctx, name); e != nil {
			delErrs = multierror.Append(delErrs, e)
			continue
		}
		res.Deleted = append(res.Deleted, name)
	}
	return res, delErrs.ErrorOrNil()
}
