package estest

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const scrollIDPrefix = "estest-scroll-"

var keepAliveRe = regexp.MustCompile(`^\d+(d|h|m|s|ms|micros|nanos)$`)

// scrollCtx keeps hits snapshot taken when scroll was opened
type scrollCtx struct {
	hits []map[string]interface{}
	pos  int
	size int
	ids  []string
}

type searchRequest struct {
	Query  interface{} `json:"query"`
	Size   *int        `json:"size"`
	From   int         `json:"from"`
	Source interface{} `json:"_source"`
}

func (e *Engine) search(name string, body []byte, q url.Values) (int, response) {
	var req searchRequest
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	size := 10
	if req.Size != nil {
		size = *req.Size
	}
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return errorResponse(http.StatusBadRequest, "illegal_argument_exception", fmt.Sprintf("bad size [%s]", s))
		}
		size = n
	}

	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}
	hits, ie := e.matchHits(names, req.Query, req.Source != false)
	if ie != nil {
		return ie.response()
	}

	scroll, isScroll := q["scroll"]
	if !isScroll {
		from := req.From
		if from > len(hits) {
			from = len(hits)
		}
		to := from + size
		if to > len(hits) {
			to = len(hits)
		}
		return http.StatusOK, searchResponse("", len(hits), hits[from:to])
	}

	if !keepAliveRe.MatchString(scroll[0]) {
		return errorResponse(http.StatusBadRequest, "illegal_argument_exception",
			fmt.Sprintf("failed to parse setting [scroll] with value [%s] as a time value", scroll[0]))
	}
	if size == 0 {
		return errorResponse(http.StatusBadRequest, "illegal_argument_exception", "[size] cannot be [0] in a scroll context")
	}
	ctx := &scrollCtx{hits: hits, size: size}
	return http.StatusOK, searchResponse(e.newScrollID(ctx), len(hits), ctx.next())
}

func (e *Engine) scrollNext(body []byte) (int, response) {
	var req struct {
		Scroll   string `json:"scroll"`
		ScrollID string `json:"scroll_id"`
	}
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	if !strings.HasPrefix(req.ScrollID, scrollIDPrefix) {
		return errorResponse(http.StatusBadRequest, "illegal_argument_exception", "Cannot parse scroll id")
	}
	if req.Scroll != "" && !keepAliveRe.MatchString(req.Scroll) {
		return errorResponse(http.StatusBadRequest, "illegal_argument_exception",
			fmt.Sprintf("failed to parse setting [scroll] with value [%s] as a time value", req.Scroll))
	}
	ctx, ok := e.scrolls[req.ScrollID]
	if !ok {
		status, res := errorResponse(http.StatusNotFound, "search_context_missing_exception",
			fmt.Sprintf("No search context found for id [%s]", req.ScrollID))
		// reported by engine as failed search phase with missing context as root cause
		envelope := res.(map[string]interface{})["error"].(map[string]interface{})
		envelope["type"] = "search_phase_execution_exception"
		envelope["reason"] = "all shards failed"
		return status, res
	}
	return http.StatusOK, searchResponse(e.newScrollID(ctx), len(ctx.hits), ctx.next())
}

func (e *Engine) clearScroll(body []byte) (int, response) {
	var req struct {
		ScrollID interface{} `json:"scroll_id"`
	}
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	var ids []string
	switch v := req.ScrollID.(type) {
	case string:
		ids = []string{v}
	case []interface{}:
		for _, id := range v {
			ids = append(ids, fmt.Sprint(id))
		}
	}

	freed := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, scrollIDPrefix) {
			return errorResponse(http.StatusBadRequest, "illegal_argument_exception", "Cannot parse scroll id")
		}
		ctx, ok := e.scrolls[id]
		if !ok {
			continue
		}
		for _, cid := range ctx.ids {
			delete(e.scrolls, cid)
		}
		freed++
	}
	if freed == 0 {
		return http.StatusNotFound, map[string]interface{}{"succeeded": true, "num_freed": 0}
	}
	return http.StatusOK, map[string]interface{}{"succeeded": true, "num_freed": freed}
}

func (e *Engine) deleteByQuery(name string, body []byte) (int, response) {
	var req searchRequest
	if ie := decodeBody(body, &req); ie != nil {
		return ie.response()
	}
	names := e.resolve(name)
	if len(names) == 0 {
		return indexNotFound(name)
	}
	q, ie := buildQuery(req.Query)
	if ie != nil {
		return ie.response()
	}
	deleted := 0
	for _, n := range names {
		idx := e.indices[n]
		ids, err := idx.match(q)
		if err != nil {
			return errorResponse(http.StatusInternalServerError, "exception", err.Error())
		}
		for _, id := range ids {
			if ok, err := idx.remove(id); err == nil && ok {
				deleted++
			}
		}
	}
	return http.StatusOK, map[string]interface{}{"took": 1, "timed_out": false, "total": deleted, "deleted": deleted, "failures": []interface{}{}}
}

func (e *Engine) matchHits(names []string, rawQuery interface{}, withSource bool) ([]map[string]interface{}, *itemError) {
	q, ie := buildQuery(rawQuery)
	if ie != nil {
		return nil, ie
	}
	var hits []map[string]interface{}
	for _, n := range names {
		idx := e.indices[n]
		ids, err := idx.match(q)
		if err != nil {
			return nil, &itemError{status: http.StatusInternalServerError, typ: "exception", reason: err.Error()}
		}
		for _, id := range ids {
			hits = append(hits, idx.hit(id, withSource))
		}
	}
	return hits, nil
}

func (e *Engine) newScrollID(ctx *scrollCtx) string {
	e.scrollSeq++
	id := fmt.Sprintf("%s%d", scrollIDPrefix, e.scrollSeq)
	ctx.ids = append(ctx.ids, id)
	e.scrolls[id] = ctx
	return id
}

func (c *scrollCtx) next() []map[string]interface{} {
	from := c.pos
	to := from + c.size
	if to > len(c.hits) {
		to = len(c.hits)
	}
	c.pos = to
	return c.hits[from:to]
}

func searchResponse(scrollID string, total int, hits []map[string]interface{}) map[string]interface{} {
	if hits == nil {
		hits = []map[string]interface{}{}
	}
	res := map[string]interface{}{
		"took":      1,
		"timed_out": false,
		"_shards":   map[string]interface{}{"total": 1, "successful": 1, "skipped": 0, "failed": 0},
		"hits": map[string]interface{}{
			"total":     map[string]interface{}{"value": total, "relation": "eq"},
			"max_score": nil,
			"hits":      hits,
		},
	}
	if scrollID != "" {
		res["_scroll_id"] = scrollID
	}
	return res
}
