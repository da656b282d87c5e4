package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/index"
)

// ReindexCommand with command line flags
type ReindexCommand struct {
	IndexOpts
	Mapping   string `long:"mapping" env:"MAPPING" description:"json file with custom mapping for the new index"`
	Batch     int    `long:"batch" env:"BATCH" default:"500" description:"scroll page size"`
	Workers   int    `long:"workers" env:"WORKERS" description:"bulk indexer workers, number of cpus by default"`
	DeleteOld bool   `long:"delete-old" env:"DELETE_OLD" description:"delete old indices after switch"`

	CommonOpts
}

// Execute runs reindex with ReindexCommand parameters, entry point for "reindex" command
func (rc *ReindexCommand) Execute(_ []string) error {
	ctx := context.Background()
	idx, err := rc.openIndex(ctx, rc.IndexOpts, rc.Mapping)
	if err != nil {
		return err
	}
	res, err := idx.Reindex(ctx, index.ReindexParams{BatchSize: rc.Batch, Workers: rc.Workers, DeleteOld: rc.DeleteOld})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(rc.stdout(), "%s %d\n", res.NewIndex, res.Indexed)
	return errors.Wrap(err, "can't write result")
}
