// Package estest provides in-memory elasticsearch stand-in for tests.
// Engine implements http.RoundTripper and is plugged into elastic.Params.Transport,
// it keeps documents per physical index, evaluates queries with bleve
// and supports aliases, bulk, scroll and mapping endpoints.
package estest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Request recorded by Engine
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// Engine is in-memory elasticsearch, safe for concurrent use
type Engine struct {
	mu        sync.Mutex
	indices   map[string]*physIndex
	aliases   map[string]map[string]bool // alias -> physical indices
	scrolls   map[string]*scrollCtx
	scrollSeq int
	idSeq     int
	requests  []Request
}

// New makes empty Engine
func New() *Engine {
	return &Engine{
		indices: map[string]*physIndex{},
		aliases: map[string]map[string]bool{},
		scrolls: map[string]*scrollCtx{},
	}
}

// RoundTrip serves request as elasticsearch would
func (e *Engine) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = ioutil.ReadAll(req.Body); err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, Request{Method: req.Method, Path: req.URL.Path, Query: req.URL.RawQuery, Body: string(body)})

	status, resp := e.route(req.Method, req.URL, body)
	return e.response(req, status, resp)
}

// Requests returns all requests served so far
func (e *Engine) Requests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]Request, len(e.requests))
	copy(res, e.requests)
	return res
}

// ResetRequests forgets recorded requests
func (e *Engine) ResetRequests() {
	e.mu.Lock()
	e.requests = nil
	e.mu.Unlock()
}

// Docs returns sources of all documents of index or alias by id
func (e *Engine) Docs(name string) map[string]map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := map[string]map[string]interface{}{}
	for _, n := range e.resolve(name) {
		for id, d := range e.indices[n].docs {
			res[id] = d.source
		}
	}
	return res
}

// Indices returns names of physical indices
func (e *Engine) Indices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]string, 0, len(e.indices))
	for k := range e.indices {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// ExpireScrolls drops all scroll contexts as if keep-alive passed
func (e *Engine) ExpireScrolls() {
	e.mu.Lock()
	e.scrolls = map[string]*scrollCtx{}
	e.mu.Unlock()
}

// Close releases bleve indices
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := new(multierror.Error)
	for name, idx := range e.indices {
		if err := idx.close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "close %s", name))
		}
	}
	e.indices = map[string]*physIndex{}
	e.aliases = map[string]map[string]bool{}
	return errs.ErrorOrNil()
}

// response is status and body, body is marshaled to json unless nil
type response = interface{}

func (e *Engine) route(method string, u *url.URL, body []byte) (int, response) {
	segs := splitPath(u)
	q := u.Query()

	if len(segs) == 0 {
		return http.StatusOK, map[string]interface{}{
			"name":    "estest",
			"version": map[string]interface{}{"number": "7.13.1"},
			"tagline": "You Know, for Search",
		}
	}

	switch segs[0] {
	case "_bulk":
		return e.bulk("", body)
	case "_aliases":
		return e.updateAliases(body)
	case "_alias":
		if len(segs) == 2 {
			return e.getAlias(segs[1])
		}
	case "_refresh":
		return http.StatusOK, shardsOK()
	case "_search":
		if len(segs) == 2 && segs[1] == "scroll" {
			switch method {
			case http.MethodPost, http.MethodGet:
				return e.scrollNext(body)
			case http.MethodDelete:
				return e.clearScroll(body)
			}
		}
	}

	switch len(segs) {
	case 1:
		return e.indexLevel(method, segs[0], body)
	case 2:
		return e.collectionLevel(method, segs[0], segs[1], body, q)
	case 3:
		if segs[2] == "_mapping" {
			return e.mapping(method, segs[0], segs[1], body)
		}
		return e.document(method, segs[0], segs[1], segs[2], body)
	case 4:
		if segs[3] == "_update" && method == http.MethodPost {
			return e.updateDocument(segs[0], segs[1], segs[2], body)
		}
	}
	return errorResponse(http.StatusBadRequest, "illegal_argument_exception",
		fmt.Sprintf("no handler found for uri [%s] and method [%s]", u.Path, method))
}

func (e *Engine) indexLevel(method, name string, body []byte) (int, response) {
	switch method {
	case http.MethodHead:
		if len(e.resolve(name)) == 0 {
			return http.StatusNotFound, nil
		}
		return http.StatusOK, nil
	case http.MethodPut:
		return e.createIndex(name, body)
	case http.MethodDelete:
		return e.deleteIndex(name)
	case http.MethodGet:
		names := e.resolve(name)
		if len(names) == 0 {
			return indexNotFound(name)
		}
		res := map[string]interface{}{}
		for _, n := range names {
			res[n] = map[string]interface{}{"aliases": e.aliasesOf(n), "mappings": e.indices[n].mappings}
		}
		return http.StatusOK, res
	}
	return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", method+" /"+name)
}

func (e *Engine) collectionLevel(method, name, action string, body []byte, q url.Values) (int, response) {
	switch action {
	case "_bulk":
		return e.bulk(name, body)
	case "_search":
		return e.search(name, body, q)
	case "_delete_by_query":
		return e.deleteByQuery(name, body)
	case "_refresh":
		if len(e.resolve(name)) == 0 {
			return indexNotFound(name)
		}
		return http.StatusOK, shardsOK()
	case "_alias", "_aliases":
		return e.listAliases(name)
	}

	// type level
	switch method {
	case http.MethodPost:
		return e.indexDocument(name, action, "", body)
	case http.MethodDelete:
		return e.deleteType(name, action)
	}
	return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", method+" /"+name+"/"+action)
}

func (e *Engine) response(req *http.Request, status int, body response) (*http.Response, error) {
	var data []byte
	if body != nil && req.Method != http.MethodHead {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	if status >= 500 {
		log.Printf("[WARN] estest %s %s -> %d %s", req.Method, req.URL.Path, status, data)
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        http.Header{"Content-Type": {"application/json"}, "X-Elastic-Product": {"Elasticsearch"}},
		Body:          ioutil.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}, nil
}

// resolve returns physical indices behind name, which is index, alias or wildcard pattern
func (e *Engine) resolve(name string) []string {
	if _, ok := e.indices[name]; ok {
		return []string{name}
	}
	var res []string
	if set, ok := e.aliases[name]; ok {
		for n := range set {
			res = append(res, n)
		}
	}
	if strings.Contains(name, "*") {
		for n := range e.indices {
			if ok, _ := path.Match(name, n); ok {
				res = append(res, n)
			}
		}
	}
	sort.Strings(res)
	return res
}

// writeTarget returns index to write documents to, missing index is created
func (e *Engine) writeTarget(name string) (*physIndex, *itemError) {
	names := e.resolve(name)
	switch {
	case len(names) == 1:
		return e.indices[names[0]], nil
	case len(names) > 1:
		return nil, &itemError{status: http.StatusBadRequest, typ: "illegal_argument_exception",
			reason: fmt.Sprintf("no write index is defined for alias [%s]", name)}
	}
	if strings.Contains(name, "*") {
		return nil, &itemError{status: http.StatusBadRequest, typ: "invalid_index_name_exception",
			reason: fmt.Sprintf("Invalid index name [%s]", name)}
	}
	idx, err := newPhysIndex(name)
	if err != nil {
		return nil, &itemError{status: http.StatusInternalServerError, typ: "exception", reason: err.Error()}
	}
	e.indices[name] = idx
	return idx, nil
}

func (e *Engine) aliasesOf(name string) map[string]interface{} {
	res := map[string]interface{}{}
	for alias, set := range e.aliases {
		if set[name] {
			res[alias] = map[string]interface{}{}
		}
	}
	return res
}

func (e *Engine) nextID() string {
	e.idSeq++
	return fmt.Sprintf("auto-%06d", e.idSeq)
}

// itemError is a failure of one operation, rendered as elasticsearch error object
type itemError struct {
	status int
	typ    string
	reason string
}

func (ie *itemError) body() map[string]interface{} {
	return map[string]interface{}{"type": ie.typ, "reason": ie.reason}
}

func (ie *itemError) response() (int, response) {
	return errorResponse(ie.status, ie.typ, ie.reason)
}

func errorResponse(status int, typ, reason string) (int, response) {
	cause := map[string]interface{}{"type": typ, "reason": reason}
	return status, map[string]interface{}{
		"error": map[string]interface{}{
			"root_cause": []interface{}{cause},
			"type":       typ,
			"reason":     reason,
		},
		"status": status,
	}
}

func indexNotFound(name string) (int, response) {
	return errorResponse(http.StatusNotFound, "index_not_found_exception", fmt.Sprintf("no such index [%s]", name))
}

func shardsOK() map[string]interface{} {
	return map[string]interface{}{"_shards": map[string]interface{}{"total": 1, "successful": 1, "failed": 0}}
}

func splitPath(u *url.URL) []string {
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		return nil
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if un, err := url.PathUnescape(s); err == nil {
			segs[i] = un
		}
	}
	return segs
}

func decodeBody(body []byte, v interface{}) *itemError {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &itemError{status: http.StatusBadRequest, typ: "parse_exception", reason: err.Error()}
	}
	return nil
}
