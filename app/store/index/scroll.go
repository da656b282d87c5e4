package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

const (
	defaultScrollBatchSize = 100
	defaultScrollKeepAlive = "2m"
)

var keepAliveRe = regexp.MustCompile(`^\d+(d|h|m|s|ms|micros|nanos)$`)

// ScrollParams to build ScrollEnumerator
type ScrollParams struct {
	Search    map[string]interface{} // search body, match_all if empty
	BatchSize int                    // hits per page, 100 by default
	KeepAlive string                 // server side ttl of scroll context, "2m" by default
	ScrollID  string                 // continue existing scroll instead of opening new one
}

// Hit is one search result
type Hit struct {
	ID     string                 `json:"_id"`
	Index  string                 `json:"_index"`
	Type   string                 `json:"_type"`
	Score  *float64               `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

// ScrollPage is one response of scroll api
type ScrollPage struct {
	ScrollID string
	Total    int64
	Hits     []Hit
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total hitsTotal `json:"total"`
		Hits  []Hit     `json:"hits"`
	} `json:"hits"`
}

// hitsTotal is a number before es7 and {"value": n, "relation": "eq"} since
type hitsTotal struct {
	Value int64 `json:"value"`
}

func (t *hitsTotal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '{' {
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "bad hits total %s", data)
		}
		t.Value = v
		return nil
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrapf(err, "bad hits total %s", data)
	}
	t.Value = obj.Value
	return nil
}

type scrollState int

const (
	scrollInitial scrollState = iota
	scrollActive
	scrollExhausted
	scrollExpired
)

// ScrollEnumerator pages through all hits of a search with scroll api.
// Not safe for concurrent use. Abandoned enumerator keeps scroll contexts
// on engine side until keep-alive passes, call ResetScroll or exhaust it to release them.
type ScrollEnumerator struct {
	idx       *Index
	search    map[string]interface{}
	batchSize int
	keepAlive string

	state      scrollState
	scrollID   string
	history    []string
	total      int64
	pending    []Hit
	hasPending bool
	expiredErr error
}

// BuildScrollEnumerator makes enumerator over the alias, no request is made until first page is asked
func (idx *Index) BuildScrollEnumerator(params ScrollParams) (*ScrollEnumerator, error) {
	if params.BatchSize == 0 {
		params.BatchSize = defaultScrollBatchSize
	}
	if params.KeepAlive == "" {
		params.KeepAlive = defaultScrollKeepAlive
	}
	if params.BatchSize < 0 {
		return nil, &InvalidScrollError{Reason: fmt.Sprintf("batch size should be positive, got %d", params.BatchSize)}
	}
	if !keepAliveRe.MatchString(params.KeepAlive) {
		return nil, &InvalidScrollError{Reason: fmt.Sprintf("bad keep alive %q", params.KeepAlive)}
	}

	search := make(map[string]interface{}, len(params.Search)+1)
	for k, v := range params.Search {
		search[k] = v
	}
	if _, ok := search["sort"]; !ok {
		search["sort"] = []string{"_doc"}
	}

	res := &ScrollEnumerator{idx: idx, search: search, batchSize: params.BatchSize, keepAlive: params.KeepAlive}
	if params.ScrollID != "" {
		res.state = scrollActive
		res.setScrollID(params.ScrollID)
	}
	return res, nil
}

// TotalHits returns number of hits matched by search, opens scroll if needed
func (s *ScrollEnumerator) TotalHits(ctx context.Context) (int64, error) {
	if s.state == scrollExpired {
		return 0, s.expiredErr
	}
	if s.state == scrollInitial {
		if err := s.open(ctx); err != nil {
			return 0, err
		}
	}
	return s.total, nil
}

// RequestMoreHits returns next page of hits. Empty page means scroll is exhausted,
// all later calls return empty page without requests. Expired scroll returns
// *ExpiredScrollError on this and every later call.
func (s *ScrollEnumerator) RequestMoreHits(ctx context.Context) ([]Hit, error) {
	switch s.state {
	case scrollExpired:
		return nil, s.expiredErr
	case scrollExhausted:
		return nil, nil
	case scrollInitial:
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	if s.hasPending {
		hits := s.pending
		s.pending, s.hasPending = nil, false
		return s.page(hits), nil
	}

	page, err := s.idx.Scroll(ctx, s.scrollID, s.keepAlive)
	if err != nil {
		var expired *ExpiredScrollError
		if errors.As(err, &expired) {
			s.state, s.expiredErr = scrollExpired, err
			s.idx.metrics.scrollExpired(s.idx.alias)
		}
		return nil, err
	}
	if page.ScrollID != "" {
		s.setScrollID(page.ScrollID)
	}
	if s.total == 0 {
		s.total = page.Total
	}
	return s.page(page.Hits), nil
}

// RequestMoreIDs returns ids of the next page of hits
func (s *ScrollEnumerator) RequestMoreIDs(ctx context.Context) ([]string, error) {
	hits, err := s.RequestMoreHits(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// EachSlice calls fn for every non-empty page until scroll is exhausted and releases scroll ids after.
// Error of fn stops iteration and returned as is.
func (s *ScrollEnumerator) EachSlice(ctx context.Context, fn func(hits []Hit) error) error {
	for {
		hits, err := s.RequestMoreHits(ctx)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			return s.release(ctx)
		}
		if err = fn(hits); err != nil {
			if e := s.release(ctx); e != nil {
				log.Printf("[WARN] can't release scroll of %s, %v", s.idx.alias, e)
			}
			return err
		}
	}
}

// ResetScroll releases all scroll ids ever issued and returns enumerator to initial state
func (s *ScrollEnumerator) ResetScroll(ctx context.Context) error {
	if err := s.release(ctx); err != nil {
		return err
	}
	s.state = scrollInitial
	s.scrollID = ""
	s.total = 0
	s.pending, s.hasPending = nil, false
	s.expiredErr = nil
	return nil
}

// ScrollID returns current scroll id, empty before first page
func (s *ScrollEnumerator) ScrollID() string {
	return s.scrollID
}

// ScrollIDs returns all scroll ids issued and not released yet
func (s *ScrollEnumerator) ScrollIDs() []string {
	res := make([]string, len(s.history))
	copy(res, s.history)
	return res
}

// Exhausted reports if all pages were fetched
func (s *ScrollEnumerator) Exhausted() bool {
	return s.state == scrollExhausted
}

func (s *ScrollEnumerator) open(ctx context.Context) error {
	path := fmt.Sprintf("/%s/_search?scroll=%s&size=%d", s.idx.alias, url.QueryEscape(s.keepAlive), s.batchSize)
	var resp scrollResponse
	if err := s.idx.conn.JSONPost(ctx, path, s.search, &resp); err != nil {
		if elastic.StatusCode(err) == http.StatusBadRequest {
			return &InvalidScrollError{Reason: errorBody(err)}
		}
		return errors.Wrapf(err, "failed to open scroll on %s", s.idx.alias)
	}
	s.state = scrollActive
	s.setScrollID(resp.ScrollID)
	s.total = resp.Hits.Total.Value
	s.pending, s.hasPending = resp.Hits.Hits, true
	log.Printf("[DEBUG] scroll opened on %s, total hits %d", s.idx.alias, s.total)
	return nil
}

func (s *ScrollEnumerator) page(hits []Hit) []Hit {
	if len(hits) == 0 {
		s.state = scrollExhausted
		return nil
	}
	s.idx.metrics.scrollPage(s.idx.alias)
	return hits
}

func (s *ScrollEnumerator) setScrollID(id string) {
	s.scrollID = id
	for _, h := range s.history {
		if h == id {
			return
		}
	}
	s.history = append(s.history, id)
}

func (s *ScrollEnumerator) release(ctx context.Context) error {
	if len(s.history) == 0 {
		return nil
	}
	if err := s.idx.DeleteScroll(ctx, s.history...); err != nil {
		return err
	}
	s.history = nil
	return nil
}

// Scroll fetches next page of existing scroll.
// Unknown or expired scroll id returns *ExpiredScrollError, malformed request *InvalidScrollError.
func (idx *Index) Scroll(ctx context.Context, scrollID, keepAlive string) (*ScrollPage, error) {
	if keepAlive == "" {
		keepAlive = defaultScrollKeepAlive
	}
	body := map[string]string{"scroll": keepAlive, "scroll_id": scrollID}
	var resp scrollResponse
	if err := idx.conn.JSONPost(ctx, "/_search/scroll", body, &resp); err != nil {
		var e *elastic.Error
		switch {
		case errors.As(err, &e) && (e.StatusCode == http.StatusNotFound || e.Type() == "search_context_missing_exception"):
			return nil, &ExpiredScrollError{ScrollID: scrollID, Reason: e.Body}
		case errors.As(err, &e) && e.StatusCode == http.StatusBadRequest:
			return nil, &InvalidScrollError{Reason: e.Body}
		}
		return nil, errors.Wrap(err, "scroll request failed")
	}
	return &ScrollPage{ScrollID: resp.ScrollID, Total: resp.Hits.Total.Value, Hits: resp.Hits.Hits}, nil
}

// DeleteScroll releases scroll contexts, already expired ones are ignored
func (idx *Index) DeleteScroll(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string][]string{"scroll_id": ids}
	if err := idx.conn.JSONDelete(ctx, "/_search/scroll", body, nil); err != nil && !elastic.IsNotFound(err) {
		return errors.Wrapf(err, "failed to release %d scroll ids", len(ids))
	}
	return nil
}

func errorBody(err error) string {
	var e *elastic.Error
	if errors.As(err, &e) {
		return e.Body
	}
	return err.Error()
}
