package estest

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

type searchResult struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string                 `json:"_id"`
			Index  string                 `json:"_index"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r searchResult) ids() []string {
	res := []string{}
	for _, h := range r.Hits.Hits {
		res = append(res, h.ID)
	}
	return res
}

func prepEngine(t *testing.T) (*Engine, *elastic.Connection) {
	t.Helper()
	eng := New()
	t.Cleanup(func() { assert.NoError(t, eng.Close()) })
	conn, err := elastic.NewConnection(elastic.Params{Transport: eng})
	require.NoError(t, err)
	return eng, conn
}

func prepDocs(t *testing.T, conn *elastic.Connection) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, conn.JSONPut(ctx, "/books_1", map[string]interface{}{"aliases": map[string]interface{}{"books": map[string]interface{}{}}}, nil))
	docs := map[string]map[string]interface{}{
		"1": {"title": "the go programming language", "year": 2015, "tags": []string{"go", "programming"}, "draft": false},
		"2": {"title": "the rust programming language", "year": 2018, "tags": []string{"rust"}, "draft": false},
		"3": {"title": "concurrency in go", "year": 2017, "tags": []string{"go"}, "draft": true},
		"4": {"title": "learning elasticsearch", "year": 2017, "tags": []string{"search"}, "draft": false},
	}
	for id, doc := range docs {
		require.NoError(t, conn.JSONPut(ctx, "/books/book/"+id, doc, nil))
	}
}

func TestEngine_Ping(t *testing.T) {
	_, conn := prepEngine(t)
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestEngine_Documents(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	exists, err := conn.DocumentExists(ctx, "books", "book", "1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = conn.DocumentExists(ctx, "books", "book", "42")
	require.NoError(t, err)
	assert.False(t, exists)

	var doc struct {
		ID      string                 `json:"_id"`
		Index   string                 `json:"_index"`
		Version int                    `json:"_version"`
		Source  map[string]interface{} `json:"_source"`
	}
	require.NoError(t, conn.JSONGet(ctx, "/books/book/3", &doc))
	assert.Equal(t, "books_1", doc.Index)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "concurrency in go", doc.Source["title"])

	var created struct {
		ID     string `json:"_id"`
		Result string `json:"result"`
	}
	require.NoError(t, conn.JSONPost(ctx, "/books/book", map[string]interface{}{"title": "no id"}, &created))
	assert.Equal(t, "created", created.Result)
	assert.Contains(t, eng.Docs("books"), created.ID)

	require.NoError(t, conn.JSONPost(ctx, "/books/book/3/_update", map[string]interface{}{"doc": map[string]interface{}{"draft": false}}, nil))
	assert.Equal(t, false, eng.Docs("books")["3"]["draft"])
	assert.Equal(t, "concurrency in go", eng.Docs("books")["3"]["title"])

	err = conn.JSONPost(ctx, "/books/book/42/_update", map[string]interface{}{"doc": map[string]interface{}{"draft": false}}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, elastic.StatusCode(err))

	require.NoError(t, conn.JSONDelete(ctx, "/books/book/3", nil, nil))
	assert.NotContains(t, eng.Docs("books"), "3")
	assert.True(t, elastic.IsNotFound(conn.JSONDelete(ctx, "/books/book/3", nil, nil)))

	err = conn.JSONPut(ctx, "/books/book/5", map[string]interface{}{"year": "unknown"}, nil)
	require.Error(t, err, "field kind conflict")
	var e *elastic.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "mapper_parsing_exception", e.Type())
}

func TestEngine_Search(t *testing.T) {
	_, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	tbl := []struct {
		query interface{}
		ids   []string
	}{
		{nil, []string{"1", "2", "3", "4"}},
		{map[string]interface{}{"match_all": map[string]interface{}{}}, []string{"1", "2", "3", "4"}},
		{map[string]interface{}{"match_none": map[string]interface{}{}}, []string{}},
		{map[string]interface{}{"term": map[string]interface{}{"tags": "go"}}, []string{"1", "3"}},
		{map[string]interface{}{"term": map[string]interface{}{"tags": map[string]interface{}{"value": "rust"}}}, []string{"2"}},
		{map[string]interface{}{"match": map[string]interface{}{"title": "programming"}}, []string{"1", "2"}},
		{map[string]interface{}{"match_phrase": map[string]interface{}{"title": map[string]interface{}{"query": "programming language"}}}, []string{"1", "2"}},
		{map[string]interface{}{"terms": map[string]interface{}{"year": []interface{}{2015, 2018}}}, []string{"1", "2"}},
		{map[string]interface{}{"ids": map[string]interface{}{"values": []interface{}{"2", "4", "42"}}}, []string{"2", "4"}},
		{map[string]interface{}{"term": map[string]interface{}{"draft": true}}, []string{"3"}},
		{map[string]interface{}{"query_string": map[string]interface{}{"query": "*"}}, []string{"1", "2", "3", "4"}},
		{map[string]interface{}{"query_string": map[string]interface{}{"query": "title:elasticsearch"}}, []string{"4"}},
		{map[string]interface{}{"bool": map[string]interface{}{
			"must":     map[string]interface{}{"term": map[string]interface{}{"year": 2017}},
			"must_not": []interface{}{map[string]interface{}{"term": map[string]interface{}{"draft": true}}},
		}}, []string{"4"}},
		{map[string]interface{}{"bool": map[string]interface{}{
			"should": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"tags": "rust"}},
				map[string]interface{}{"term": map[string]interface{}{"tags": "search"}},
			},
		}}, []string{"2", "4"}},
		{map[string]interface{}{"constant_score": map[string]interface{}{
			"filter": map[string]interface{}{"term": map[string]interface{}{"year": 2018}},
		}}, []string{"2"}},
	}

	for i, tt := range tbl {
		var res searchResult
		body := map[string]interface{}{}
		if tt.query != nil {
			body["query"] = tt.query
		}
		require.NoError(t, conn.JSONPost(ctx, "/books/_search", body, &res), "case #%d", i)
		assert.Equal(t, tt.ids, res.ids(), "case #%d", i)
		assert.Equal(t, len(tt.ids), res.Hits.Total.Value, "case #%d", i)
	}

	var res searchResult
	require.NoError(t, conn.JSONPost(ctx, "/books/_search", map[string]interface{}{"from": 1, "size": 2}, &res))
	assert.Equal(t, []string{"2", "3"}, res.ids())
	assert.Equal(t, 4, res.Hits.Total.Value)

	res = searchResult{}
	require.NoError(t, conn.JSONPost(ctx, "/books_*/_search", map[string]interface{}{"_source": false}, &res))
	assert.Len(t, res.ids(), 4)
	assert.Nil(t, res.Hits.Hits[0].Source)

	err := conn.JSONPost(ctx, "/books/_search", map[string]interface{}{"query": map[string]interface{}{"fuzzy": map[string]interface{}{}}}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	err = conn.JSONPost(ctx, "/nope/_search", map[string]interface{}{}, nil)
	assert.True(t, elastic.IsNotFound(err))
}

func TestEngine_Scroll(t *testing.T) {
	_, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	var res searchResult
	require.NoError(t, conn.JSONPost(ctx, "/books/_search?scroll=1m&size=3", map[string]interface{}{"sort": []string{"_doc"}}, &res))
	assert.Equal(t, []string{"1", "2", "3"}, res.ids())
	assert.Equal(t, 4, res.Hits.Total.Value)
	first := res.ScrollID
	require.True(t, strings.HasPrefix(first, scrollIDPrefix))

	// new documents are not visible to open scroll
	require.NoError(t, conn.JSONPut(ctx, "/books/book/5", map[string]interface{}{"title": "late"}, nil))

	res = searchResult{}
	require.NoError(t, conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1m", "scroll_id": first}, &res))
	assert.Equal(t, []string{"4"}, res.ids())
	assert.Equal(t, 4, res.Hits.Total.Value)
	second := res.ScrollID
	assert.NotEqual(t, first, second)

	res = searchResult{}
	require.NoError(t, conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1m", "scroll_id": second}, &res))
	assert.Empty(t, res.ids())

	err := conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1m", "scroll_id": "garbage"}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	err = conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1y", "scroll_id": second}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))

	require.NoError(t, conn.JSONDelete(ctx, "/_search/scroll", map[string]interface{}{"scroll_id": []string{first, second}}, nil))
	err = conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1m", "scroll_id": second}, nil)
	require.Error(t, err)
	var e *elastic.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
	assert.Equal(t, "search_context_missing_exception", e.Type())

	err = conn.JSONDelete(ctx, "/_search/scroll", map[string]interface{}{"scroll_id": first}, nil)
	assert.True(t, elastic.IsNotFound(err), "nothing to free")

	err = conn.JSONPost(ctx, "/books/_search?scroll=1x&size=3", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	err = conn.JSONPost(ctx, "/books/_search?scroll=1m&size=0", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
}

func TestEngine_ExpireScrolls(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	var res searchResult
	require.NoError(t, conn.JSONPost(ctx, "/books/_search?scroll=1m&size=1", map[string]interface{}{}, &res))
	eng.ExpireScrolls()
	err := conn.JSONPost(ctx, "/_search/scroll", map[string]string{"scroll": "1m", "scroll_id": res.ScrollID}, nil)
	assert.True(t, elastic.IsNotFound(err))
}

func TestEngine_Bulk(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()

	body := `{"index":{"_index":"items","_type":"item","_id":"1"}}
{"name":"one","count":1}
{"index":{"_index":"items","_type":"item","_id":"2"}}
{"name":"two","count":2}
{"update":{"_index":"items","_type":"item","_id":"1","retry_on_conflict":3}}
{"doc":{"count":10},"doc_as_upsert":true}
{"create":{"_index":"items","_id":"2"}}
{"name":"dup"}
{"update":{"_index":"items","_id":"3"}}
{"doc":{"name":"missing"}}
{"delete":{"_index":"items","_type":"item","_id":"2"}}
{"delete":{"_index":"items","_type":"item","_id":"4"}}
{"index":{"_index":"items","_id":"5"}}
{"count":"five"}
`
	var resp struct {
		Errors bool                                `json:"errors"`
		Items  []map[string]map[string]interface{} `json:"items"`
	}
	require.NoError(t, conn.Bulk(ctx, []byte(body), &resp))
	assert.True(t, resp.Errors)
	require.Len(t, resp.Items, 8)

	statuses := []float64{}
	for _, item := range resp.Items {
		for _, v := range item {
			statuses = append(statuses, v["status"].(float64))
		}
	}
	assert.Equal(t, []float64{201, 201, 200, 409, 404, 200, 404, 400}, statuses)
	assert.Equal(t, map[string]map[string]interface{}{"1": {"name": "one", "count": 10.0}}, eng.Docs("items"))

	err := conn.Bulk(ctx, []byte("{\"index\":{\"_index\":\"items\"}}\n"), nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err), "document line missing")
	err = conn.Bulk(ctx, []byte("not json\n"), nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
}

func TestEngine_SingleType(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	err := conn.JSONPut(ctx, "/books/magazine/9", map[string]interface{}{"title": "wired"}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	assert.Contains(t, err.Error(), "illegal_argument_exception")
	assert.Contains(t, err.Error(), "more than 1 type: [book, magazine]")

	var resp struct {
		Items []map[string]map[string]interface{} `json:"items"`
	}
	body := "{\"index\":{\"_index\":\"books\",\"_id\":\"9\"}}\n{\"title\":\"untyped\"}\n"
	require.NoError(t, conn.Bulk(ctx, []byte(body), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 400.0, resp.Items[0]["index"]["status"], "default _doc type rejected")
	assert.Len(t, eng.Docs("books"), 4)

	// type of mapping is checked for empty index
	require.NoError(t, conn.JSONPut(ctx, "/papers_1", map[string]interface{}{
		"mappings": map[string]interface{}{"paper": map[string]interface{}{}}}, nil))
	err = conn.JSONPut(ctx, "/papers_1/_doc/1", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	require.NoError(t, conn.JSONPut(ctx, "/papers_1/paper/1", map[string]interface{}{"title": "x"}, nil))
}

func TestEngine_DeleteByQuery(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()
	prepDocs(t, conn)

	var resp struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, conn.JSONPost(ctx, "/books/_delete_by_query",
		map[string]interface{}{"query": map[string]interface{}{"term": map[string]interface{}{"tags": "go"}}}, &resp))
	assert.Equal(t, 2, resp.Deleted)
	assert.Len(t, eng.Docs("books"), 2)

	var res searchResult
	require.NoError(t, conn.JSONPost(ctx, "/books/_search", map[string]interface{}{}, &res))
	assert.Equal(t, []string{"2", "4"}, res.ids(), "deleted documents are not searchable")
}

func TestEngine_IndicesAndAliases(t *testing.T) {
	eng, conn := prepEngine(t)
	ctx := context.Background()

	mapping := map[string]interface{}{"mappings": map[string]interface{}{"book": map[string]interface{}{"properties": map[string]interface{}{}}}}
	require.NoError(t, conn.JSONPut(ctx, "/books_1", mapping, nil))
	require.NoError(t, conn.JSONPut(ctx, "/books_2", nil, nil))
	assert.Error(t, conn.JSONPut(ctx, "/books_1", nil, nil), "exists")
	assert.Error(t, conn.JSONPut(ctx, "/Books", nil, nil), "upper case")
	assert.Equal(t, []string{"books_1", "books_2"}, eng.Indices())

	add := func(index string) map[string]interface{} {
		return map[string]interface{}{"add": map[string]string{"index": index, "alias": "books"}}
	}
	remove := func(index string) map[string]interface{} {
		return map[string]interface{}{"remove": map[string]string{"index": index, "alias": "books"}}
	}
	require.NoError(t, conn.JSONPost(ctx, "/_aliases", map[string]interface{}{"actions": []interface{}{add("books_1")}}, nil))

	var aliases map[string]interface{}
	require.NoError(t, conn.JSONGet(ctx, "/_alias/books", &aliases))
	assert.Contains(t, aliases, "books_1")

	require.NoError(t, conn.JSONPost(ctx, "/_aliases", map[string]interface{}{"actions": []interface{}{remove("books_1"), add("books_2")}}, nil))
	aliases = nil
	require.NoError(t, conn.JSONGet(ctx, "/_alias/books", &aliases))
	assert.Equal(t, []string{"books_2"}, keys(aliases))

	err := conn.JSONPost(ctx, "/_aliases", map[string]interface{}{"actions": []interface{}{remove("books_1")}}, nil)
	assert.True(t, elastic.IsNotFound(err))
	err = conn.JSONPost(ctx, "/_aliases", map[string]interface{}{"actions": []interface{}{add("books_3")}}, nil)
	assert.True(t, elastic.IsNotFound(err))

	aliases = nil
	require.NoError(t, conn.JSONGet(ctx, "/books_*/_alias", &aliases))
	assert.Equal(t, []string{"books_1", "books_2"}, keys(aliases))

	exists, err := conn.IndexExists(ctx, "books")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, conn.Refresh(ctx, "books"))

	require.NoError(t, conn.JSONDelete(ctx, "/books_2", nil, nil))
	exists, err = conn.IndexExists(ctx, "books")
	require.NoError(t, err)
	assert.False(t, exists, "alias removed with its index")
	assert.True(t, elastic.IsNotFound(conn.JSONGet(ctx, "/_alias/books", nil)))
	assert.True(t, elastic.IsNotFound(conn.JSONDelete(ctx, "/books_2", nil, nil)))
}

func TestEngine_Mapping(t *testing.T) {
	_, conn := prepEngine(t)
	ctx := context.Background()
	require.NoError(t, conn.JSONPut(ctx, "/books_1", map[string]interface{}{
		"mappings": map[string]interface{}{"book": map[string]interface{}{"properties": map[string]interface{}{"title": map[string]interface{}{"type": "text"}}}},
	}, nil))

	require.NoError(t, conn.JSONPut(ctx, "/books_1/book/_mapping", map[string]interface{}{
		"book": map[string]interface{}{"properties": map[string]interface{}{"year": map[string]interface{}{"type": "long"}}},
	}, nil))

	var resp map[string]map[string]map[string]map[string]interface{}
	require.NoError(t, conn.JSONGet(ctx, "/books_1/book/_mapping", &resp))
	props := resp["books_1"]["mappings"]["book"]["properties"].(map[string]interface{})
	assert.Contains(t, props, "title")
	assert.Contains(t, props, "year")

	require.NoError(t, conn.JSONPut(ctx, "/books_1/book/1", map[string]interface{}{"title": "x"}, nil))
	require.NoError(t, conn.JSONDelete(ctx, "/books_1/book", nil, nil))
	resp = nil
	require.NoError(t, conn.JSONGet(ctx, "/books_1/book/_mapping", &resp))
	assert.Empty(t, resp)
	assert.True(t, elastic.IsNotFound(conn.JSONDelete(ctx, "/books_1/book", nil, nil)))
	assert.True(t, elastic.IsNotFound(conn.JSONGet(ctx, "/books_9/book/_mapping", nil)))
}

func TestEngine_UnknownRoute(t *testing.T) {
	eng, conn := prepEngine(t)
	err := conn.JSONGet(context.Background(), "/a/b/c/d/e", nil)
	assert.Equal(t, http.StatusBadRequest, elastic.StatusCode(err))
	require.Len(t, eng.Requests(), 1)
	assert.Equal(t, "/a/b/c/d/e", eng.Requests()[0].Path)
	eng.ResetRequests()
	assert.Empty(t, eng.Requests())
}

func keys(m map[string]interface{}) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
