package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

func TestBulkBatch(t *testing.T) {
	b := &bulkBatch{}
	assert.True(t, b.IsEmpty())
	assert.Empty(t, b.Current())

	b.Append(BulkAction{Type: ActionIndex, ID: "1"})
	b.Append(BulkAction{Type: ActionUpdate, ID: "1"})
	b.Append(BulkAction{Type: ActionDelete, ID: "1"})
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.IsEmpty())

	expected := []BulkAction{{Type: ActionIndex, ID: "1"}, {Type: ActionUpdate, ID: "1"}, {Type: ActionDelete, ID: "1"}}
	assert.Equal(t, expected, b.Current())
	assert.Equal(t, expected, b.Current(), "current keeps actions in place")
	assert.Equal(t, 3, b.Len())

	assert.Equal(t, expected, b.Drain())
	assert.True(t, b.IsEmpty())
	assert.Empty(t, b.Drain())
}

func TestBulkBatch_DrainUnknownType(t *testing.T) {
	b := &bulkBatch{}
	b.queue.PushBack("junk")
	assert.Panics(t, func() { b.Drain() })
}

func TestEncodeBulk(t *testing.T) {
	actions := []BulkAction{
		{Type: ActionIndex, Index: "widgets", DocType: "widget", ID: "5", Doc: map[string]string{"color": "green"}},
		{Type: ActionUpdate, Index: "widgets", DocType: "widget", ID: "5", Doc: map[string]string{"color": "blue"}},
		{Type: ActionDelete, Index: "widgets", DocType: "widget", ID: "3"},
	}
	expected := `{"index":{"_index":"widgets","_type":"widget","_id":"5"}}
{"color":"green"}
{"update":{"_index":"widgets","_type":"widget","_id":"5","retry_on_conflict":3}}
{"doc":{"color":"blue"},"doc_as_upsert":true}
{"delete":{"_index":"widgets","_type":"widget","_id":"3","retry_on_conflict":3}}
`
	for _, parser := range []string{"std", "jsoniter"} {
		t.Run(parser, func(t *testing.T) {
			codec, err := elastic.NewCodec(parser)
			require.NoError(t, err)
			body, err := encodeBulk(codec, actions)
			require.NoError(t, err)
			assert.Equal(t, expected, string(body))
		})
	}
}

func TestEncodeBulk_BadDocument(t *testing.T) {
	codec, err := elastic.NewCodec("std")
	require.NoError(t, err)
	_, err = encodeBulk(codec, []BulkAction{{Type: ActionIndex, Index: "widgets", ID: "1", Doc: make(chan int)}})
	assert.Error(t, err)
}
