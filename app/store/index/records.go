package index

import (
	"context"
)

// Record is an application model stored in the index
type Record interface {
	RecordID() string            // empty for records without id yet
	SearchDocument() interface{} // fields to index
}

// IndexRecord indexes record document under record id
func (idx *Index) IndexRecord(ctx context.Context, r Record) (*IndexResult, error) {
	return idx.IndexDocument(ctx, r.RecordID(), r.SearchDocument())
}

// UpdateRecord updates or creates record document
func (idx *Index) UpdateRecord(ctx context.Context, r Record) error {
	return idx.UpdateDocument(ctx, r.RecordID(), r.SearchDocument())
}

// DeleteRecord removes record document
func (idx *Index) DeleteRecord(ctx context.Context, r Record) error {
	return idx.DeleteDocument(ctx, r.RecordID())
}

// BulkAdd indexes all records in one bulk scope
func (idx *Index) BulkAdd(ctx context.Context, records []Record) error {
	return idx.Bulk(ctx, func() error {
		for _, r := range records {
			if _, err := idx.IndexRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindInBatches scrolls all hits of search and calls fn with every page
func (idx *Index) FindInBatches(ctx context.Context, search map[string]interface{}, batchSize int, fn func(hits []Hit) error) error {
	enum, err := idx.BuildScrollEnumerator(ScrollParams{Search: search, BatchSize: batchSize})
	if err != nil {
		return err
	}
	return enum.EachSlice(ctx, fn)
}

// FindEachID scrolls ids of all hits of search
func (idx *Index) FindEachID(ctx context.Context, search map[string]interface{}, fn func(id string) error) error {
	if search == nil {
		search = map[string]interface{}{}
	}
	s := make(map[string]interface{}, len(search)+1)
	for k, v := range search {
		s[k] = v
	}
	s["_source"] = false
	return idx.FindInBatches(ctx, s, 0, func(hits []Hit) error {
		for _, h := range hits {
			if err := fn(h.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
