package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/index"
)

const maxImportLine = 16 * 1024 * 1024

// ImportCommand with command line flags
type ImportCommand struct {
	IndexOpts
	In    string `long:"in" env:"IN" description:"input file, stdin by default"`
	Batch int    `long:"batch" env:"BATCH" default:"500" description:"documents per bulk request"`

	CommonOpts
}

type importDoc struct {
	id  string
	doc map[string]interface{}
}

// Execute runs import with ImportCommand parameters, entry point for "import" command.
// Input is ndjson, _id field of a line is used as document id and removed from the document.
func (ic *ImportCommand) Execute(_ []string) error {
	ctx := context.Background()
	idx, err := ic.openIndex(ctx, ic.IndexOpts, "")
	if err != nil {
		return err
	}

	in := ic.stdin()
	if ic.In != "" {
		fh, e := os.Open(ic.In)
		if e != nil {
			return errors.Wrapf(e, "can't open %s", ic.In)
		}
		defer fh.Close() // nolint
		in = fh
	}

	count, err := ic.importDocs(ctx, idx, in)
	if err != nil {
		return errors.Wrapf(err, "import to %s failed after %d documents", idx.Alias(), count)
	}
	log.Printf("[INFO] imported %d documents to %s", count, idx.Alias())
	_, err = fmt.Fprintf(ic.stdout(), "imported %d\n", count)
	return errors.Wrap(err, "can't write result")
}

func (ic *ImportCommand) importDocs(ctx context.Context, idx *index.Index, r io.Reader) (int, error) {
	batchSize := ic.Batch
	if batchSize <= 0 {
		batchSize = 500
	}
	codec := idx.Connection().Codec()

	flush := func(docs []importDoc) error {
		return idx.Bulk(ctx, func() error {
			for _, d := range docs {
				if _, err := idx.IndexDocument(ctx, d.id, d.doc); err != nil {
					return err
				}
			}
			return nil
		})
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	batch := make([]importDoc, 0, batchSize)
	count, line := 0, 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		var doc map[string]interface{}
		if err := codec.Unmarshal(data, &doc); err != nil {
			return count, errors.Wrapf(err, "bad document at line %d", line)
		}
		id, _ := doc["_id"].(string)
		delete(doc, "_id")
		batch = append(batch, importDoc{id: id, doc: doc})

		if len(batch) < batchSize {
			continue
		}
		if err := flush(batch); err != nil {
			return count, err
		}
		count += len(batch)
		batch = batch[:0]
	}
	if err := scanner.Err(); err != nil {
		return count, errors.Wrap(err, "can't read input")
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return count, err
		}
		count += len(batch)
	}
	return count, nil
}
