package cmd

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// DeployCommand with command line flags
type DeployCommand struct {
	IndexOpts
	Mapping   string `long:"mapping" env:"MAPPING" description:"json file with custom mapping"`
	DeleteOld bool   `long:"delete-old" env:"DELETE_OLD" description:"delete indices alias pointed to before"`

	CommonOpts
}

// Execute runs deploy with DeployCommand parameters, entry point for "deploy" command
func (dc *DeployCommand) Execute(_ []string) error {
	log.Printf("[INFO] deploy %s, %s", dc.Alias, dc.Revision)
	ctx := context.Background()
	idx, err := dc.openIndex(ctx, dc.IndexOpts, dc.Mapping)
	if err != nil {
		return err
	}

	old, err := idx.AliasedNames(ctx)
	if err != nil {
		return err
	}
	name, err := idx.CreateAndDeploy(ctx)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintln(dc.stdout(), name); err != nil {
		return errors.Wrap(err, "can't write result")
	}

	if !dc.DeleteOld {
		return nil
	}
	errs := new(multierror.Error)
	for _, n := range old {
		if e := idx.DeleteIndex(ctx, n); e != nil {
			errs = multierror.Append(errs, e)
		}
	}
	return errs.ErrorOrNil()
}
