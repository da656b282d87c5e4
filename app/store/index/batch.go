package index

import (
	"bytes"
	"fmt"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// retryOnConflict attached to every update and delete action
const retryOnConflict = 3

// ActionType of bulk item
type ActionType string

// enum of bulk actions
const (
	ActionIndex  ActionType = "index"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// BulkAction is one pending mutation of bulk batch
type BulkAction struct {
	Type    ActionType
	Index   string
	DocType string
	ID      string
	Doc     interface{} // nil for delete
}

type bulkMeta struct {
	Index           string `json:"_index"`
	Type            string `json:"_type,omitempty"`
	ID              string `json:"_id,omitempty"`
	RetryOnConflict int    `json:"retry_on_conflict,omitempty"`
}

type upsertDoc struct {
	Doc         interface{} `json:"doc"`
	DocAsUpsert bool        `json:"doc_as_upsert"`
}

// Lines returns bulk request lines of the action, metadata first
func (a BulkAction) Lines() []interface{} {
	meta := bulkMeta{Index: a.Index, Type: a.DocType, ID: a.ID}
	switch a.Type {
	case ActionIndex:
		return []interface{}{map[ActionType]bulkMeta{a.Type: meta}, a.Doc}
	case ActionUpdate:
		meta.RetryOnConflict = retryOnConflict
		return []interface{}{map[ActionType]bulkMeta{a.Type: meta}, upsertDoc{Doc: a.Doc, DocAsUpsert: true}}
	default:
		meta.RetryOnConflict = retryOnConflict
		return []interface{}{map[ActionType]bulkMeta{a.Type: meta}}
	}
}

// bulkBatch keeps pending actions in submission order, nothing is merged or deduplicated
type bulkBatch struct {
	queue deque.Deque
}

// Append adds action to the end of batch
func (b *bulkBatch) Append(action BulkAction) {
	b.queue.PushBack(action)
}

// Len returns number of pending actions
func (b *bulkBatch) Len() int {
	return b.queue.Len()
}

// IsEmpty checks for pending actions
func (b *bulkBatch) IsEmpty() bool {
	return b.queue.Len() == 0
}

// Current returns pending actions without removing them
func (b *bulkBatch) Current() []BulkAction {
	n := b.queue.Len()
	res := make([]BulkAction, 0, n)
	for i := 0; i < n; i++ {
		action := b.queue.PopFront().(BulkAction)
		res = append(res, action)
		b.queue.PushBack(action)
	}
	return res
}

// Drain returns all pending actions and leaves batch empty
func (b *bulkBatch) Drain() []BulkAction {
	res := make([]BulkAction, 0, b.queue.Len())
	for b.queue.Len() > 0 {
		switch val := b.queue.PopFront().(type) {
		case BulkAction:
			res = append(res, val)
		default:
			panic(fmt.Sprintf("unknown type %T", val))
		}
	}
	return res
}

// encodeBulk makes ndjson body for bulk endpoint
func encodeBulk(codec elastic.Codec, actions []BulkAction) ([]byte, error) {
	var buf bytes.Buffer
	for _, action := range actions {
		for _, line := range action.Lines() {
			data, err := codec.Marshal(line)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot encode %s action for %q", action.Type, action.ID)
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}
