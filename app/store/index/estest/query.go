package estest

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"
)

// buildQuery translates subset of query dsl into bleve query:
// match_all, match_none, match, match_phrase, term, terms, ids, query_string, bool and constant_score
func buildQuery(q interface{}) (query.Query, *itemError) {
	m, ok := q.(map[string]interface{})
	if q == nil || (ok && len(m) == 0) {
		return bleve.NewMatchAllQuery(), nil
	}
	if !ok || len(m) != 1 {
		return nil, parsingError("query should be an object with single key, got %v", q)
	}

	for name, body := range m {
		args, _ := body.(map[string]interface{})
		switch name {
		case "match_all":
			return bleve.NewMatchAllQuery(), nil
		case "match_none":
			return bleve.NewMatchNoneQuery(), nil
		case "query_string":
			s, _ := args["query"].(string)
			if s == "" || s == "*" {
				return bleve.NewMatchAllQuery(), nil
			}
			return bleve.NewQueryStringQuery(s), nil
		case "match", "match_phrase", "term":
			return fieldQuery(name, args)
		case "terms":
			return termsQuery(args)
		case "ids":
			values, _ := args["values"].([]interface{})
			ids := make([]string, 0, len(values))
			for _, v := range values {
				ids = append(ids, fmt.Sprint(v))
			}
			return bleve.NewDocIDQuery(ids), nil
		case "bool":
			return boolQuery(args)
		case "constant_score":
			return buildQuery(args["filter"])
		}
		return nil, parsingError("unknown query [%s]", name)
	}
	return nil, parsingError("empty query")
}

func fieldQuery(name string, args map[string]interface{}) (query.Query, *itemError) {
	if len(args) != 1 {
		return nil, parsingError("[%s] query should have single field", name)
	}
	for field, v := range args {
		if obj, ok := v.(map[string]interface{}); ok {
			if val, has := obj["query"]; has {
				v = val
			} else {
				v = obj["value"]
			}
		}
		return valueQuery(field, v)
	}
	return nil, parsingError("[%s] query is empty", name)
}

func termsQuery(args map[string]interface{}) (query.Query, *itemError) {
	if len(args) != 1 {
		return nil, parsingError("[terms] query should have single field")
	}
	for field, v := range args {
		values, ok := v.([]interface{})
		if !ok {
			return nil, parsingError("[terms] query of %s should be an array", field)
		}
		disjuncts := make([]query.Query, 0, len(values))
		for _, val := range values {
			dq, ie := valueQuery(field, val)
			if ie != nil {
				return nil, ie
			}
			disjuncts = append(disjuncts, dq)
		}
		return bleve.NewDisjunctionQuery(disjuncts...), nil
	}
	return nil, parsingError("[terms] query is empty")
}

func valueQuery(field string, v interface{}) (query.Query, *itemError) {
	switch val := v.(type) {
	case string:
		q := bleve.NewMatchPhraseQuery(val)
		q.SetField(field)
		return q, nil
	case float64:
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(&val, &val, &inclusive, &inclusive)
		q.SetField(field)
		return q, nil
	case bool:
		q := bleve.NewBoolFieldQuery(val)
		q.SetField(field)
		return q, nil
	}
	return nil, parsingError("unsupported value %v of field %s", v, field)
}

func boolQuery(args map[string]interface{}) (query.Query, *itemError) {
	res := bleve.NewBooleanQuery()
	clauses := func(v interface{}) ([]query.Query, *itemError) {
		var list []interface{}
		switch val := v.(type) {
		case nil:
			return nil, nil
		case []interface{}:
			list = val
		default:
			list = []interface{}{val}
		}
		qs := make([]query.Query, 0, len(list))
		for _, item := range list {
			q, ie := buildQuery(item)
			if ie != nil {
				return nil, ie
			}
			qs = append(qs, q)
		}
		return qs, nil
	}

	added := 0
	for key, v := range args {
		qs, ie := clauses(v)
		if ie != nil {
			return nil, ie
		}
		if len(qs) == 0 {
			continue
		}
		added++
		switch key {
		case "must", "filter":
			res.AddMust(qs...)
		case "should":
			res.AddShould(qs...)
		case "must_not":
			res.AddMustNot(qs...)
		default:
			return nil, parsingError("[bool] query does not support [%s]", key)
		}
	}
	if added == 0 {
		return bleve.NewMatchAllQuery(), nil
	}
	return res, nil
}

// match returns sorted ids of documents of idx matching query
func (p *physIndex) match(q query.Query) ([]string, error) {
	if len(p.docs) == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(q, len(p.docs), 0, false)
	res, err := p.search.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		if _, ok := p.docs[h.ID]; ok {
			ids = append(ids, h.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func parsingError(format string, args ...interface{}) *itemError {
	return &itemError{status: http.StatusBadRequest, typ: "parsing_exception", reason: fmt.Sprintf(format, args...)}
}
