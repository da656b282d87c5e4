package index

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
)

// Mapping is a schema tree of the document type
type Mapping map[string]interface{}

// DefaultMapping returns schema every index starts with: created_at and updated_at dates
// and dynamic template storing all strings as not analyzed keywords
func DefaultMapping() Mapping {
	return Mapping{
		"properties": map[string]interface{}{
			"created_at": map[string]interface{}{"type": "date"},
			"updated_at": map[string]interface{}{"type": "date"},
		},
		"dynamic_templates": []interface{}{
			map[string]interface{}{
				"no_string_analyzing": map[string]interface{}{
					"match":              "*",
					"match_mapping_type": "string",
					"mapping": map[string]interface{}{
						"type":       "keyword",
						"doc_values": true,
					},
				},
			},
		},
	}
}

// Mapping returns a copy of the index schema, default one is built on first access.
// Schema is changed only with MergeMapping.
func (idx *Index) Mapping() Mapping {
	return deepCopy(idx.schema()).(map[string]interface{})
}

func (idx *Index) schema() Mapping {
	if idx.mapping == nil {
		idx.mapping = DefaultMapping()
	}
	return idx.mapping
}

// MergeMapping deep merges custom schema into current one.
// Nested maps combined key by key, other values including slices are overwritten.
// Merged values are copied, later changes of custom do not affect the index.
func (idx *Index) MergeMapping(custom Mapping) {
	deepMerge(idx.schema(), custom)
}

func deepMerge(dst, src map[string]interface{}) {
	for k, srcVal := range src {
		srcMap, srcIsMap := asMap(srcVal)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			dst[k] = dstMap
			continue
		}
		dst[k] = deepCopy(srcVal)
	}
}

// deepCopy clones maps and slices of a schema tree, Mapping values become plain maps
func deepCopy(v interface{}) interface{} {
	if m, ok := asMap(v); ok {
		res := make(map[string]interface{}, len(m))
		for k, val := range m {
			res[k] = deepCopy(val)
		}
		return res
	}
	switch val := v.(type) {
	case []interface{}:
		res := make([]interface{}, len(val))
		for i, item := range val {
			res[i] = deepCopy(item)
		}
		return res
	case []map[string]interface{}:
		res := make([]interface{}, len(val))
		for i, item := range val {
			res[i] = deepCopy(item)
		}
		return res
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Mapping:
		return m, true
	}
	return nil, false
}

func (idx *Index) mappingPath(indexName string) string {
	return "/" + idx.nameOrAlias(indexName) + "/" + url.PathEscape(idx.typeName)
}

// UpdateMapping puts current schema to the index, alias is used if indexName is empty
func (idx *Index) UpdateMapping(ctx context.Context, indexName string) error {
	body := map[string]interface{}{idx.typeName: idx.schema()}
	if err := idx.conn.JSONPut(ctx, idx.mappingPath(indexName)+"/_mapping", body, nil); err != nil {
		return errors.Wrapf(err, "failed to update mapping of %s", idx.nameOrAlias(indexName))
	}
	return nil
}

// GetMapping returns schema stored by engine, nil if engine has none
func (idx *Index) GetMapping(ctx context.Context, indexName string) (Mapping, error) {
	var resp map[string]struct {
		Mappings Mapping `json:"mappings"`
	}
	if err := idx.conn.JSONGet(ctx, idx.mappingPath(indexName)+"/_mapping", &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to get mapping of %s", idx.nameOrAlias(indexName))
	}
	for _, v := range resp {
		if len(v.Mappings) == 0 {
			return nil, nil
		}
		return v.Mappings, nil
	}
	return nil, nil
}

// DeleteMapping removes document type from the index
func (idx *Index) DeleteMapping(ctx context.Context, indexName string) error {
	if err := idx.conn.JSONDelete(ctx, idx.mappingPath(indexName), nil, nil); err != nil {
		return errors.Wrapf(err, "failed to delete mapping of %s", idx.nameOrAlias(indexName))
	}
	return nil
}
