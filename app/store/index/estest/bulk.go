package estest

import (
	"bytes"
	"encoding/json"
	"net/http"
)

type bulkMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id"`
}

// bulk applies ndjson actions in order, every item succeeds or fails independently
func (e *Engine) bulk(defaultIndex string, body []byte) (int, response) {
	var lines [][]byte
	for _, l := range bytes.Split(body, []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, l)
		}
	}

	items := []interface{}{}
	hasErrors := false
	for i := 0; i < len(lines); i++ {
		var meta map[string]bulkMeta
		if err := json.Unmarshal(lines[i], &meta); err != nil || len(meta) != 1 {
			return errorResponse(http.StatusBadRequest, "illegal_argument_exception", "Malformed action/metadata line ["+string(lines[i])+"]")
		}
		for action, m := range meta {
			var src map[string]interface{}
			if action != "delete" {
				i++
				if i >= len(lines) {
					return errorResponse(http.StatusBadRequest, "illegal_argument_exception", "Validation Failed: 1: no requests added;")
				}
				if err := json.Unmarshal(lines[i], &src); err != nil {
					return errorResponse(http.StatusBadRequest, "parse_exception", err.Error())
				}
			}
			res := e.bulkItem(action, defaultIndex, m, src)
			if _, failed := res["error"]; failed {
				hasErrors = true
			}
			items = append(items, map[string]interface{}{action: res})
		}
	}
	return http.StatusOK, map[string]interface{}{"took": 1, "errors": hasErrors, "items": items}
}

func (e *Engine) bulkItem(action, defaultIndex string, m bulkMeta, src map[string]interface{}) map[string]interface{} {
	if m.Index == "" {
		m.Index = defaultIndex
	}
	if m.Type == "" {
		m.Type = "_doc"
	}
	failed := func(ie *itemError) map[string]interface{} {
		return map[string]interface{}{"_index": m.Index, "_type": m.Type, "_id": m.ID, "status": ie.status, "error": ie.body()}
	}

	target, ie := e.writeTarget(m.Index)
	if ie != nil {
		return failed(ie)
	}

	switch action {
	case "index", "create":
		if _, exists := target.docs[m.ID]; exists && action == "create" {
			return failed(&itemError{status: http.StatusConflict, typ: "version_conflict_engine_exception",
				reason: "[" + m.ID + "]: version conflict, document already exists"})
		}
		_, res, ie := e.indexInto(target, m.Type, m.ID, src)
		if ie != nil {
			return failed(ie)
		}
		return res
	case "update":
		_, res, ie := e.updateInto(target, m.Type, m.ID, src)
		if ie != nil {
			return failed(ie)
		}
		return res
	case "delete":
		_, res := e.deleteFrom(target, m.Type, m.ID)
		return res
	}
	return failed(&itemError{status: http.StatusBadRequest, typ: "illegal_argument_exception",
		reason: "Malformed action/metadata line, expected one of [create, delete, index, update] but found [" + action + "]"})
}
