// Package index binds record types to elasticsearch indices.
// Index provides document operations with deferred bulk batching,
// scroll enumeration, mapping and alias management.
//
// Index is not safe for concurrent use, deferral scopes and bulk batch
// are plain mutable state without locking. Use one Index per goroutine
// or serialize access externally.
package index

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// Params to configure Index
type Params struct {
	Alias   string // stable name used for all requests, physical indices are named after it
	Type    string // document type, defaults to alias
	Mapping Mapping
	Metrics *Metrics
}

// Index is one logical index bound to a record type
type Index struct {
	conn     *elastic.Connection
	alias    string
	typeName string
	mapping  Mapping
	metrics  *Metrics

	deferring bool
	depth     int
	aborted   bool // one of nested scopes released without commit
	batch     *bulkBatch
}

// New makes Index, deferring is enabled
func New(conn *elastic.Connection, params Params) (*Index, error) {
	if conn == nil {
		return nil, errors.New("no connection")
	}
	if params.Alias == "" {
		return nil, errors.New("alias name is not set")
	}
	if strings.ContainsAny(params.Alias, `/\*?"<>| ,#`) || strings.ToLower(params.Alias) != params.Alias {
		return nil, errors.Errorf("invalid alias name %q", params.Alias)
	}
	idx := &Index{
		conn:      conn,
		alias:     params.Alias,
		typeName:  params.Type,
		metrics:   params.Metrics,
		deferring: true,
	}
	if idx.typeName == "" {
		idx.typeName = params.Alias
	}
	if params.Mapping != nil {
		idx.MergeMapping(params.Mapping)
	}
	return idx, nil
}

// Alias returns alias name
func (idx *Index) Alias() string {
	return idx.alias
}

// Type returns document type name
func (idx *Index) Type() string {
	return idx.typeName
}

// Connection returns connection used by index
func (idx *Index) Connection() *elastic.Connection {
	return idx.conn
}

func (idx *Index) nameOrAlias(name string) string {
	if name == "" {
		return idx.alias
	}
	return name
}

func (idx *Index) typePath() string {
	return "/" + idx.alias + "/" + url.PathEscape(idx.typeName)
}

func (idx *Index) docPath(id string) string {
	return idx.typePath() + "/" + url.PathEscape(id)
}
