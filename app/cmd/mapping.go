package cmd

import (
	"context"
	"encoding/json"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
)

// MappingCommand with command line flags
type MappingCommand struct {
	IndexOpts
	Action  string `long:"action" env:"ACTION" choice:"get" choice:"update" choice:"delete" default:"get" description:"mapping action"`
	Index   string `long:"index" env:"INDEX" description:"physical index name, alias by default"`
	Mapping string `long:"mapping" env:"MAPPING" description:"json file with custom mapping, for update"`

	CommonOpts
}

// Execute runs mapping action with MappingCommand parameters, entry point for "mapping" command
func (mc *MappingCommand) Execute(_ []string) error {
	ctx := context.Background()
	idx, err := mc.openIndex(ctx, mc.IndexOpts, mc.Mapping)
	if err != nil {
		return err
	}

	switch mc.Action {
	case "update":
		if err = idx.UpdateMapping(ctx, mc.Index); err != nil {
			return err
		}
		log.Printf("[INFO] mapping of %s updated", idx.Alias())
		return nil
	case "delete":
		if err = idx.DeleteMapping(ctx, mc.Index); err != nil {
			return err
		}
		log.Printf("[INFO] mapping of %s deleted", idx.Alias())
		return nil
	case "get", "":
		m, e := idx.GetMapping(ctx, mc.Index)
		if e != nil {
			return e
		}
		enc := json.NewEncoder(mc.stdout())
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(m), "can't write mapping")
	}
	return errors.Errorf("unknown mapping action %q", mc.Action)
}
