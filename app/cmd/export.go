package cmd

import (
	"bufio"
	"context"
	"io"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
	"github.com/vdimir/elasticrecord/app/store/index"
)

// ExportCommand with command line flags
type ExportCommand struct {
	IndexOpts
	Query     string `long:"query" env:"QUERY" description:"search body as json, all documents by default"`
	Batch     int    `long:"batch" env:"BATCH" default:"100" description:"scroll page size"`
	KeepAlive string `long:"keep-alive" env:"KEEP_ALIVE" default:"2m" description:"scroll keep alive"`
	Out       string `long:"out" env:"OUT" description:"output file, stdout by default"`

	CommonOpts
}

// Execute runs export with ExportCommand parameters, entry point for "export" command.
// Every document is written as a line of its source with _id field added.
func (ec *ExportCommand) Execute(_ []string) error {
	ctx := context.Background()
	idx, err := ec.openIndex(ctx, ec.IndexOpts, "")
	if err != nil {
		return err
	}
	codec := idx.Connection().Codec()

	var search map[string]interface{}
	if ec.Query != "" {
		if err = codec.Unmarshal([]byte(ec.Query), &search); err != nil {
			return errors.Wrapf(err, "can't parse query %q", ec.Query)
		}
	}
	enum, err := idx.BuildScrollEnumerator(index.ScrollParams{Search: search, BatchSize: ec.Batch, KeepAlive: ec.KeepAlive})
	if err != nil {
		return err
	}

	out := ec.stdout()
	if ec.Out != "" {
		fh, e := os.Create(ec.Out)
		if e != nil {
			return errors.Wrapf(e, "can't create %s", ec.Out)
		}
		defer func() {
			if e := fh.Close(); e != nil {
				log.Printf("[WARN] can't close %s, %v", ec.Out, e)
			}
		}()
		out = fh
	}

	w := bufio.NewWriter(out)
	count := 0
	err = enum.EachSlice(ctx, func(hits []index.Hit) error {
		for _, h := range hits {
			if e := writeHit(w, codec, h); e != nil {
				return e
			}
			count++
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "export of %s failed after %d documents", idx.Alias(), count)
	}
	if err = w.Flush(); err != nil {
		return errors.Wrap(err, "can't write export")
	}
	log.Printf("[INFO] exported %d documents from %s", count, idx.Alias())
	return nil
}

func writeHit(w io.Writer, codec elastic.Codec, h index.Hit) error {
	doc := make(map[string]interface{}, len(h.Source)+1)
	for k, v := range h.Source {
		doc[k] = v
	}
	doc["_id"] = h.ID
	data, err := codec.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "can't encode %q", h.ID)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return errors.Wrapf(err, "can't write %q", h.ID)
}
