// Package cmd has all cli commands, every command works with one index selected by alias
package cmd

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
	"github.com/vdimir/elasticrecord/app/store/index"
)

// CommonOptionsCommander extends flags.Commander with SetCommon
// All commands should implement this interfaces
type CommonOptionsCommander interface {
	SetCommon(commonOpts CommonOpts)
	Execute(args []string) error
}

// CommonOpts sets externally from main, shared across all commands
type CommonOpts struct {
	Endpoints  []string
	Secret     string
	JSONParser string
	MaxRetries int
	Wait       int // ping attempts before giving up
	Revision   string

	Transport http.RoundTripper // replaces http transport in tests
	Stdin     io.Reader
	Stdout    io.Writer
}

// IndexOpts selects index the command works with
type IndexOpts struct {
	Alias string `long:"alias" env:"ALIAS" required:"true" description:"index alias"`
	Type  string `long:"type" env:"TYPE" description:"document type, alias by default"`
}

// SetCommon satisfies CommonOptionsCommander interface and sets common option fields
// The method called by main for each command
func (c *CommonOpts) SetCommon(commonOpts CommonOpts) {
	*c = commonOpts
}

func (c *CommonOpts) stdout() io.Writer {
	if c.Stdout == nil {
		return os.Stdout
	}
	return c.Stdout
}

func (c *CommonOpts) stdin() io.Reader {
	if c.Stdin == nil {
		return os.Stdin
	}
	return c.Stdin
}

// connect makes connection and waits for the cluster to answer ping
func (c *CommonOpts) connect(ctx context.Context) (*elastic.Connection, error) {
	conn, err := elastic.NewConnection(elastic.Params{
		Endpoints:  c.Endpoints,
		Secret:     c.Secret,
		JSONParser: c.JSONParser,
		MaxRetries: c.MaxRetries,
		Transport:  c.Transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't make connection")
	}

	attempts := c.Wait
	if attempts < 1 {
		attempts = 1
	}
	err = repeater.NewDefault(attempts, time.Second).Do(ctx, func() error {
		if e := conn.Ping(ctx); e != nil {
			log.Printf("[DEBUG] cluster is not ready, %v", e)
			return e
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cluster %v is not reachable", c.Endpoints)
	}
	return conn, nil
}

// openIndex connects and makes Index for the alias, mapping file is merged into the default mapping
func (c *CommonOpts) openIndex(ctx context.Context, opts IndexOpts, mappingFile string) (*index.Index, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	params := index.Params{Alias: opts.Alias, Type: opts.Type}
	if mappingFile != "" {
		if params.Mapping, err = loadMapping(conn.Codec(), mappingFile); err != nil {
			return nil, err
		}
	}
	return index.New(conn, params)
}

func loadMapping(codec elastic.Codec, file string) (index.Mapping, error) {
	data, err := ioutil.ReadFile(file) // nolint
	if err != nil {
		return nil, errors.Wrapf(err, "can't read mapping from %s", file)
	}
	var m index.Mapping
	if err = codec.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "can't parse mapping %s", file)
	}
	return m, nil
}
