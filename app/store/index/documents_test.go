package index

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

func TestIndex_IndexDocument(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	res, err := idx.IndexDocument(ctx, "abc", map[string]string{"warehouse_id": "5", "color": "red"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
	assert.Equal(t, "created", res.Result)
	assert.False(t, res.Deferred)

	reqs := eng.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "PUT", reqs[0].Method)
	assert.Equal(t, "/widgets/widget/abc", reqs[0].Path)

	exists, err := idx.RecordExists(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = idx.RecordExists(ctx, "xyz")
	require.NoError(t, err)
	assert.False(t, exists)

	res, err = idx.IndexDocument(ctx, "abc", map[string]string{"color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Result)
	assert.Equal(t, int64(2), res.Version)
}

func TestIndex_IndexDocumentWithoutID(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	res, err := idx.IndexDocument(ctx, "", map[string]string{"color": "red"})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID, "id assigned by engine")
	assert.False(t, res.Deferred)
	assert.Len(t, requestsTo(eng, "POST", "/widgets/widget"), 1)

	exists, err := idx.RecordExists(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIndex_IndexDocumentWithoutIDDeferred(t *testing.T) {
	idx, _ := prepIndex(t)
	ctx := context.Background()

	var res *IndexResult
	err := idx.Bulk(ctx, func() error {
		var e error
		res, e = idx.IndexDocument(ctx, "", map[string]string{"color": "red"})
		require.NoError(t, e)
		assert.True(t, res.Deferred)
		assert.Len(t, res.ID, 36)

		exists, e := idx.RecordExists(ctx, res.ID)
		require.NoError(t, e)
		assert.False(t, exists, "not visible before flush")
		return nil
	})
	require.NoError(t, err)

	exists, err := idx.RecordExists(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIndex_UpdateDocument(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	_, err := idx.IndexDocument(ctx, "abc", map[string]string{"warehouse_id": "5", "color": "red"})
	require.NoError(t, err)
	require.NoError(t, idx.UpdateDocument(ctx, "abc", map[string]string{"color": "blue"}))

	upd := requestsTo(eng, "POST", "/widgets/widget/abc/_update")
	require.Len(t, upd, 1)
	assert.Equal(t, "retry_on_conflict=3", upd[0].Query)
	assert.JSONEq(t, `{"doc":{"color":"blue"},"doc_as_upsert":true}`, upd[0].Body)

	doc, err := idx.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, doc.Found)
	assert.Equal(t, map[string]interface{}{"warehouse_id": "5", "color": "blue"}, doc.Source)

	// upsert
	require.NoError(t, idx.UpdateDocument(ctx, "new", map[string]string{"color": "green"}))
	doc, err = idx.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"color": "green"}, doc.Source)
}

func TestIndex_DeleteDocument(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	_, err := idx.IndexDocument(ctx, "abc", map[string]string{"color": "red"})
	require.NoError(t, err)
	require.NoError(t, idx.DeleteDocument(ctx, "abc"))
	assert.Len(t, requestsTo(eng, "DELETE", "/widgets/widget/abc"), 1)

	exists, err := idx.RecordExists(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, exists)

	err = idx.DeleteDocument(ctx, "abc")
	require.Error(t, err, "missing document")
	assert.True(t, elastic.IsNotFound(err))
}

func TestIndex_InvalidArgument(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	check := func() {
		err := idx.UpdateDocument(ctx, "", map[string]string{"color": "red"})
		assert.True(t, errors.Is(err, ErrInvalidArgument), err)
		err = idx.DeleteDocument(ctx, "")
		assert.True(t, errors.Is(err, ErrInvalidArgument), err)
		_, err = idx.RecordExists(ctx, "")
		assert.True(t, errors.Is(err, ErrInvalidArgument), err)
		_, err = idx.Get(ctx, "")
		assert.True(t, errors.Is(err, ErrInvalidArgument), err)
	}

	check()
	require.NoError(t, idx.Bulk(ctx, func() error {
		check()
		assert.Empty(t, idx.CurrentBulkBatch(), "nothing queued")
		return nil
	}))
	assert.Empty(t, eng.Requests())
}

func TestIndex_DeleteByQuery(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	for id, name := range map[string]string{"1": "bob", "2": "joe", "3": "bob"} {
		_, err := idx.IndexDocument(ctx, id, map[string]string{"name": name})
		require.NoError(t, err)
	}

	// never deferred
	err := idx.Bulk(ctx, func() error {
		deleted, e := idx.DeleteByQuery(ctx, map[string]interface{}{
			"query": map[string]interface{}{"match": map[string]interface{}{"name": "bob"}},
		})
		require.NoError(t, e)
		assert.Equal(t, int64(2), deleted)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, requestsTo(eng, "POST", "/widgets/_delete_by_query"), 1)
	assert.Equal(t, map[string]map[string]interface{}{"2": {"name": "joe"}}, eng.Docs("widgets"))

	_, err = idx.DeleteByQuery(ctx, map[string]interface{}{"query": map[string]interface{}{"nope": nil}})
	assert.Error(t, err)
}

func TestIndex_Get(t *testing.T) {
	idx, _ := prepIndex(t)
	ctx := context.Background()

	doc, err := idx.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, doc.Found)
	assert.Equal(t, "missing", doc.ID)

	_, err = idx.IndexDocument(ctx, "1", map[string]interface{}{"color": "red", "size": 5})
	require.NoError(t, err)
	doc, err = idx.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, doc.Found)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, map[string]interface{}{"color": "red", "size": 5.0}, doc.Source)
}

func TestIndex_Records(t *testing.T) {
	idx, eng := prepIndex(t)
	ctx := context.Background()

	records := []Record{widget{ID: "1", Color: "red"}, widget{ID: "2", Color: "green"}, widget{ID: "3", Color: "blue"}}
	require.NoError(t, idx.BulkAdd(ctx, records))
	assert.Len(t, requestsTo(eng, "POST", "/_bulk"), 1)
	assert.Len(t, eng.Docs("widgets"), 3)

	require.NoError(t, idx.UpdateRecord(ctx, widget{ID: "1", Color: "white"}))
	require.NoError(t, idx.DeleteRecord(ctx, widget{ID: "2"}))
	res, err := idx.IndexRecord(ctx, widget{ID: "4", Color: "black"})
	require.NoError(t, err)
	assert.Equal(t, "4", res.ID)

	assert.Equal(t, map[string]map[string]interface{}{
		"1": {"color": "white"},
		"3": {"color": "blue"},
		"4": {"color": "black"},
	}, eng.Docs("widgets"))
}
