// Package elastic provides json transport to elasticsearch http api,
// used by index package for all document, mapping and scroll requests
package elastic

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
)

// Params to configure Connection
type Params struct {
	Endpoints  []string
	Secret     string // "basic:user:pass" or "token:api-key", optional
	JSONParser string // "std" or "jsoniter"
	MaxRetries int
	Transport  http.RoundTripper // custom transport, mostly for tests
}

// Connection performs json requests against elasticsearch endpoint
type Connection struct {
	client *elasticsearch.Client
	codec  Codec
}

func parseSecret(secret string, cfg *elasticsearch.Config) error {
	switch {
	case strings.HasPrefix(secret, "basic:"):
		userpass := strings.SplitN(strings.TrimPrefix(secret, "basic:"), ":", 2)
		if len(userpass) != 2 {
			return errors.Errorf("secret for basic auth should have format 'basic:user:pass'")
		}
		cfg.Username, cfg.Password = userpass[0], userpass[1]
		return nil
	case strings.HasPrefix(secret, "token:"):
		cfg.APIKey = strings.TrimPrefix(secret, "token:")
		return nil
	}
	allowed := []string{"basic:", "token:"}
	return errors.Errorf("secret should starts with one of prefixes: %v", allowed)
}

func normalizeEndpoints(endpoints []string) []string {
	res := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, "http://") && !strings.HasPrefix(e, "https://") {
			e = "http://" + e
		}
		res = append(res, strings.TrimSuffix(e, "/"))
	}
	return res
}

// NewConnection makes Connection with elasticsearch client
func NewConnection(params Params) (*Connection, error) {
	codec, err := NewCodec(params.JSONParser)
	if err != nil {
		return nil, err
	}

	cfg := elasticsearch.Config{
		Addresses:  normalizeEndpoints(params.Endpoints),
		MaxRetries: params.MaxRetries,
		Transport:  params.Transport,
	}
	if params.Secret != "" {
		if err = parseSecret(params.Secret, &cfg); err != nil {
			return nil, err
		}
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create elastic client")
	}
	return &Connection{client: client, codec: codec}, nil
}

// Client returns underlying elasticsearch client
func (c *Connection) Client() *elasticsearch.Client {
	return c.client
}

// Codec returns json codec used for bodies
func (c *Connection) Codec() Codec {
	return c.codec
}

// JSONGet makes GET request and decodes response into result, if not nil
func (c *Connection) JSONGet(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// JSONPut makes PUT request with json body
func (c *Connection) JSONPut(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// JSONPost makes POST request with json body
func (c *Connection) JSONPost(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// JSONDelete makes DELETE request, body is optional
func (c *Connection) JSONDelete(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodDelete, path, body, result)
}

// Bulk posts ndjson body to bulk endpoint and decodes response into result
func (c *Connection) Bulk(ctx context.Context, body []byte, result interface{}) error {
	start := time.Now()
	resp, err := esapi.BulkRequest{Body: bytes.NewReader(body)}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "bulk request failed")
	}
	defer closeBody(resp)
	log.Printf("[DEBUG] POST /_bulk (%d bytes) -> %d in %v", len(body), resp.StatusCode, time.Since(start))

	if err = checkResponse(http.MethodPost, "/_bulk", resp); err != nil {
		return err
	}
	return c.decode(resp.Body, result)
}

// DocumentExists checks document presence with HEAD request
func (c *Connection) DocumentExists(ctx context.Context, index, docType, id string) (bool, error) {
	req := esapi.ExistsRequest{Index: index, DocumentType: docType, DocumentID: id}
	resp, err := req.Do(ctx, c.client)
	if err != nil {
		return false, errors.Wrapf(err, "exists request for %s/%s/%s failed", index, docType, id)
	}
	defer closeBody(resp)
	return existsStatus(http.MethodHead, "/"+index+"/"+docType+"/"+id, resp)
}

// IndexExists checks if index or alias exists
func (c *Connection) IndexExists(ctx context.Context, name string) (bool, error) {
	resp, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, c.client)
	if err != nil {
		return false, errors.Wrapf(err, "error getting index %s status", name)
	}
	defer closeBody(resp)
	return existsStatus(http.MethodHead, "/"+name, resp)
}

// Refresh makes recent changes of indices visible for search
func (c *Connection) Refresh(ctx context.Context, names ...string) error {
	resp, err := esapi.IndicesRefreshRequest{Index: names}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrapf(err, "refresh of %v failed", names)
	}
	defer closeBody(resp)
	return checkResponse(http.MethodPost, "/"+strings.Join(names, ",")+"/_refresh", resp)
}

// Ping checks that cluster responds
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := esapi.PingRequest{}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "ping failed")
	}
	defer closeBody(resp)
	return checkResponse(http.MethodHead, "/", resp)
}

func (c *Connection) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := c.codec.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "cannot encode body of %s %s", method, path)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return errors.Wrapf(err, "cannot make request %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.client.Perform(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	resp := &esapi.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}
	defer closeBody(resp)
	log.Printf("[DEBUG] %s %s -> %d in %v", method, path, resp.StatusCode, time.Since(start))

	if err = checkResponse(method, path, resp); err != nil {
		return err
	}
	return c.decode(resp.Body, result)
}

func (c *Connection) decode(body io.Reader, result interface{}) error {
	if result == nil || body == nil {
		return nil
	}
	data, err := ioutil.ReadAll(body)
	if err != nil {
		return errors.Wrap(err, "error reading the response body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err = c.codec.Unmarshal(data, result); err != nil {
		return errors.Wrap(err, "error parsing the response body")
	}
	return nil
}

func checkResponse(method, path string, resp *esapi.Response) error {
	if !resp.IsError() {
		return nil
	}
	var body []byte
	if resp.Body != nil {
		var err error
		if body, err = ioutil.ReadAll(resp.Body); err != nil {
			return errors.Wrap(err, "error reading the response body")
		}
	}
	return &Error{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
}

func existsStatus(method, path string, resp *esapi.Response) (bool, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	if err := checkResponse(method, path, resp); err != nil {
		return false, err
	}
	return false, errors.Errorf("unexpected status %d for %s %s", resp.StatusCode, method, path)
}

func closeBody(resp *esapi.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		log.Printf("[WARN] error to close response body %v", err)
	}
}
