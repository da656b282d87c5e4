package estest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/blevesearch/bleve"
	"github.com/pkg/errors"
)

type storedDoc struct {
	typ     string
	version int64
	source  map[string]interface{}
}

// physIndex is one physical index, bleve index evaluates queries over its documents
type physIndex struct {
	name     string
	docs     map[string]*storedDoc
	mappings map[string]interface{} // type -> mapping
	kinds    map[string]string      // top level field -> json kind of first value
	search   bleve.Index
}

func newPhysIndex(name string) (*physIndex, error) {
	search, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, errors.Wrapf(err, "cannot make search index for %s", name)
	}
	return &physIndex{
		name:     name,
		docs:     map[string]*storedDoc{},
		mappings: map[string]interface{}{},
		kinds:    map[string]string{},
		search:   search,
	}, nil
}

func (p *physIndex) close() error {
	return p.search.Close()
}

// docType returns the single type of the index, empty if it has neither mapping nor documents
func (p *physIndex) docType() string {
	for typ := range p.mappings {
		return typ
	}
	for _, d := range p.docs {
		return d.typ
	}
	return ""
}

// put stores document. Second document type in one index fails as well as
// field of different kind than seen before
func (p *physIndex) put(typ, id string, source map[string]interface{}) (created bool, version int64, ie *itemError) {
	if cur := p.docType(); cur != "" && cur != typ {
		return false, 0, &itemError{status: http.StatusBadRequest, typ: "illegal_argument_exception",
			reason: fmt.Sprintf("Rejecting mapping update to [%s] as the final mapping would have more than 1 type: [%s, %s]", p.name, cur, typ)}
	}
	for field, v := range source {
		kind := kindOf(v)
		if prev, ok := p.kinds[field]; ok && kind != "null" && prev != kind {
			return false, 0, &itemError{status: http.StatusBadRequest, typ: "mapper_parsing_exception",
				reason: fmt.Sprintf("failed to parse field [%s] of type [%s] in document with id '%s'", field, prev, id)}
		}
	}
	for field, v := range source {
		if kind := kindOf(v); kind != "null" {
			if _, ok := p.kinds[field]; !ok {
				p.kinds[field] = kind
			}
		}
	}

	if err := p.search.Index(id, source); err != nil {
		return false, 0, &itemError{status: http.StatusInternalServerError, typ: "exception", reason: err.Error()}
	}

	prev, exists := p.docs[id]
	version = 1
	if exists {
		version = prev.version + 1
	}
	p.docs[id] = &storedDoc{typ: typ, version: version, source: source}
	return !exists, version, nil
}

func (p *physIndex) remove(id string) (bool, error) {
	if _, ok := p.docs[id]; !ok {
		return false, nil
	}
	delete(p.docs, id)
	return true, p.search.Delete(id)
}

func (p *physIndex) sortedIDs() []string {
	res := make([]string, 0, len(p.docs))
	for id := range p.docs {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

func (p *physIndex) hit(id string, withSource bool) map[string]interface{} {
	d := p.docs[id]
	res := map[string]interface{}{
		"_index": p.name,
		"_type":  d.typ,
		"_id":    id,
		"_score": nil,
	}
	if withSource {
		res["_source"] = d.source
	}
	return res
}

func kindOf(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "text"
	case float64, json.Number:
		return "long"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		for _, el := range val {
			if k := kindOf(el); k != "null" {
				return k
			}
		}
		return "null"
	}
	return "unknown"
}

// mergeSource merges partial document into source, nested objects merged key by key
func mergeSource(dst, src map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		res[k] = v
	}
	for k, v := range src {
		srcMap, srcOk := v.(map[string]interface{})
		dstMap, dstOk := res[k].(map[string]interface{})
		if srcOk && dstOk {
			res[k] = mergeSource(dstMap, srcMap)
			continue
		}
		res[k] = v
	}
	return res
}
