package index

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// IndexResult of indexing a single document
type IndexResult struct {
	ID      string `json:"_id"`
	Index   string `json:"_index"`
	Result  string `json:"result"`
	Version int64  `json:"_version"`

	// Deferred is set when action was queued into bulk batch, engine did not see it yet
	Deferred bool `json:"-"`
}

// Document as stored by engine
type Document struct {
	ID      string                 `json:"_id"`
	Index   string                 `json:"_index"`
	Version int64                  `json:"_version"`
	Found   bool                   `json:"found"`
	Source  map[string]interface{} `json:"_source"`
}

// IndexDocument stores doc under id. Empty id makes engine assign one, returned in result.
// Inside bulk scope the action is queued, and empty id is replaced by generated uuid
// because engine assigned id is not known until the flush.
func (idx *Index) IndexDocument(ctx context.Context, id string, doc interface{}) (*IndexResult, error) {
	if idx.deferred() {
		if id == "" {
			id = uuid.New().String()
		}
		idx.enqueue(BulkAction{Type: ActionIndex, Index: idx.alias, DocType: idx.typeName, ID: id, Doc: doc})
		return &IndexResult{ID: id, Index: idx.alias, Deferred: true}, nil
	}

	res := &IndexResult{}
	var err error
	if id == "" {
		err = idx.conn.JSONPost(ctx, idx.typePath(), doc, res)
	} else {
		err = idx.conn.JSONPut(ctx, idx.docPath(id), doc, res)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to index document %q to %s", id, idx.alias)
	}
	return res, nil
}

// UpdateDocument merges doc fields into document, creates it if missing
func (idx *Index) UpdateDocument(ctx context.Context, id string, doc interface{}) error {
	if id == "" {
		return errors.Wrap(ErrInvalidArgument, "update requires document id")
	}
	if idx.deferred() {
		idx.enqueue(BulkAction{Type: ActionUpdate, Index: idx.alias, DocType: idx.typeName, ID: id, Doc: doc})
		return nil
	}

	path := fmt.Sprintf("%s/_update?retry_on_conflict=%d", idx.docPath(id), retryOnConflict)
	if err := idx.conn.JSONPost(ctx, path, upsertDoc{Doc: doc, DocAsUpsert: true}, nil); err != nil {
		return errors.Wrapf(err, "failed to update document %q in %s", id, idx.alias)
	}
	return nil
}

// DeleteDocument removes document by id
func (idx *Index) DeleteDocument(ctx context.Context, id string) error {
	if id == "" {
		return errors.Wrap(ErrInvalidArgument, "delete requires document id")
	}
	if idx.deferred() {
		idx.enqueue(BulkAction{Type: ActionDelete, Index: idx.alias, DocType: idx.typeName, ID: id})
		return nil
	}

	if err := idx.conn.JSONDelete(ctx, idx.docPath(id), nil, nil); err != nil {
		return errors.Wrapf(err, "failed to delete document %q from %s", id, idx.alias)
	}
	return nil
}

// DeleteByQuery removes all documents matching query body, never deferred.
// Returns number of deleted documents.
func (idx *Index) DeleteByQuery(ctx context.Context, query map[string]interface{}) (int64, error) {
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := idx.conn.JSONPost(ctx, "/"+idx.alias+"/_delete_by_query", query, &resp); err != nil {
		return 0, errors.Wrapf(err, "delete by query from %s failed", idx.alias)
	}
	log.Printf("[DEBUG] deleted %d documents from %s by query", resp.Deleted, idx.alias)
	return resp.Deleted, nil
}

// RecordExists checks document presence on engine side, pending bulk actions are not visible
func (idx *Index) RecordExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.Wrap(ErrInvalidArgument, "exists requires document id")
	}
	return idx.conn.DocumentExists(ctx, idx.alias, idx.typeName, id)
}

// Get fetches document by id, Found is false for missing document
func (idx *Index) Get(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "get requires document id")
	}
	doc := &Document{}
	err := idx.conn.JSONGet(ctx, idx.docPath(id), doc)
	if err == nil {
		return doc, nil
	}
	var e *elastic.Error
	if errors.As(err, &e) && e.StatusCode == 404 && e.Type() == "" {
		return &Document{ID: id, Index: idx.alias}, nil
	}
	return nil, errors.Wrapf(err, "failed to get document %q from %s", id, idx.alias)
}
