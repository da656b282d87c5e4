package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// NewIndexName makes physical index name for the alias, {alias}_{yyyymmdd_hhmmss}_{8 hex}
func (idx *Index) NewIndexName() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", idx.alias, time.Now().UTC().Format("20060102_150405"), suffix)
}

// Create makes physical index with current mapping, name is generated if empty
func (idx *Index) Create(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = idx.NewIndexName()
	}
	body := map[string]interface{}{
		"mappings": map[string]interface{}{idx.typeName: idx.schema()},
	}
	if err := idx.conn.JSONPut(ctx, "/"+name, body, nil); err != nil {
		return "", errors.Wrapf(err, "failed to create index %s", name)
	}
	log.Printf("[INFO] index %s created for %s", name, idx.alias)
	return name, nil
}

// Deploy points alias to the physical index, alias is removed from all other indices in the same request
func (idx *Index) Deploy(ctx context.Context, name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidArgument, "deploy requires index name")
	}
	current, err := idx.AliasedNames(ctx)
	if err != nil {
		return err
	}

	type aliasAction map[string]map[string]string
	actions := make([]aliasAction, 0, len(current)+1)
	for _, old := range current {
		if old == name {
			continue
		}
		actions = append(actions, aliasAction{"remove": {"index": old, "alias": idx.alias}})
	}
	actions = append(actions, aliasAction{"add": {"index": name, "alias": idx.alias}})

	if err = idx.conn.JSONPost(ctx, "/_aliases", map[string]interface{}{"actions": actions}, nil); err != nil {
		return errors.Wrapf(err, "failed to deploy %s to %s", idx.alias, name)
	}
	log.Printf("[INFO] alias %s deployed to %s", idx.alias, name)
	return nil
}

// CreateAndDeploy makes new physical index and points alias to it
func (idx *Index) CreateAndDeploy(ctx context.Context) (string, error) {
	name, err := idx.Create(ctx, "")
	if err != nil {
		return "", err
	}
	if err = idx.Deploy(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// Exists checks if index exists, alias is checked if name is empty
func (idx *Index) Exists(ctx context.Context, name string) (bool, error) {
	return idx.conn.IndexExists(ctx, idx.nameOrAlias(name))
}

// DeleteIndex removes physical index
func (idx *Index) DeleteIndex(ctx context.Context, name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidArgument, "delete requires index name")
	}
	if err := idx.conn.JSONDelete(ctx, "/"+name, nil, nil); err != nil {
		return errors.Wrapf(err, "failed to delete index %s", name)
	}
	log.Printf("[INFO] index %s deleted", name)
	return nil
}

// Refresh makes changes visible to search, alias is refreshed if name is empty
func (idx *Index) Refresh(ctx context.Context, name string) error {
	return idx.conn.Refresh(ctx, idx.nameOrAlias(name))
}

// AliasedNames returns physical indices the alias points to
func (idx *Index) AliasedNames(ctx context.Context) ([]string, error) {
	var resp map[string]interface{}
	if err := idx.conn.JSONGet(ctx, "/_alias/"+idx.alias, &resp); err != nil {
		if elastic.IsNotFound(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "failed to get indices of alias %s", idx.alias)
	}
	return sortedKeys(resp), nil
}

// AllNames returns all physical indices made for the alias, deployed or not
func (idx *Index) AllNames(ctx context.Context) ([]string, error) {
	var resp map[string]interface{}
	if err := idx.conn.JSONGet(ctx, "/"+idx.alias+"_*/_alias", &resp); err != nil {
		if elastic.IsNotFound(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list indices of %s", idx.alias)
	}
	return sortedKeys(resp), nil
}

// Reset deletes all physical indices of the alias, then creates and deploys an empty one
func (idx *Index) Reset(ctx context.Context) (string, error) {
	names, err := idx.AllNames(ctx)
	if err != nil {
		return "", err
	}
	errs := new(multierror.Error)
	for _, name := range names {
		if e := idx.DeleteIndex(ctx, name); e != nil {
			errs = multierror.Append(errs, e)
		}
	}
	if err = errs.ErrorOrNil(); err != nil {
		return "", err
	}
	return idx.CreateAndDeploy(ctx)
}

func sortedKeys(m map[string]interface{}) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
