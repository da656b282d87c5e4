package index

import (
	"context"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
)

// RecordStore is the primary storage of records
type RecordStore interface {
	Create(ctx context.Context, r Record) (id string, err error)
	Update(ctx context.Context, r Record) error
	Delete(ctx context.Context, r Record) error
}

// Indexer receives documents of stored records, implemented by *Index
type Indexer interface {
	IndexDocument(ctx context.Context, id string, doc interface{}) (*IndexResult, error)
	UpdateDocument(ctx context.Context, id string, doc interface{}) error
	DeleteDocument(ctx context.Context, id string) error
}

// StoreDecorator proxies requests to RecordStore and mirrors successful changes to the index
type StoreDecorator struct {
	RecordStore
	indexer Indexer
}

// WrapStore decorates store with StoreDecorator
func WrapStore(store RecordStore, indexer Indexer) RecordStore {
	return &StoreDecorator{
		RecordStore: store,
		indexer:     indexer,
	}
}

// Create record and add it to index, id assigned by the store is used as document id
func (s *StoreDecorator) Create(ctx context.Context, r Record) (string, error) {
	id, err := s.RecordStore.Create(ctx, r)
	if err != nil {
		return id, err
	}
	if _, err = s.indexer.IndexDocument(ctx, id, r.SearchDocument()); err != nil {
		log.Printf("[WARN] record %q stored but not indexed, %v", id, err)
		return id, errors.Wrapf(err, "failed to index record %q", id)
	}
	return id, nil
}

// Update record and its document
func (s *StoreDecorator) Update(ctx context.Context, r Record) error {
	if err := s.RecordStore.Update(ctx, r); err != nil {
		return err
	}
	if err := s.indexer.UpdateDocument(ctx, r.RecordID(), r.SearchDocument()); err != nil {
		log.Printf("[WARN] record %q updated but not indexed, %v", r.RecordID(), err)
		return errors.Wrapf(err, "failed to update document of %q", r.RecordID())
	}
	return nil
}

// Delete record from storage and index
func (s *StoreDecorator) Delete(ctx context.Context, r Record) error {
	if err := s.RecordStore.Delete(ctx, r); err != nil {
		return err
	}
	if r.RecordID() == "" {
		return nil
	}
	return s.indexer.DeleteDocument(ctx, r.RecordID())
}
