package index

import (
	"context"
	"sort"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vdimir/elasticrecord/app/store/elastic"
)

// Registry binds type ids to indices. Subtypes have no index of their own,
// they are resolved to the index of the base type.
type Registry struct {
	conn    *elastic.Connection
	metrics *Metrics
	indices map[string]*Index
	bases   map[string]string // subtype -> base type
}

// NewRegistry makes empty registry, metrics is optional and shared by all indices
func NewRegistry(conn *elastic.Connection, metrics *Metrics) *Registry {
	return &Registry{
		conn:    conn,
		metrics: metrics,
		indices: map[string]*Index{},
		bases:   map[string]string{},
	}
}

// Register makes index for typeID
func (r *Registry) Register(typeID string, params Params) (*Index, error) {
	if r.registered(typeID) {
		return nil, errors.Errorf("type %q already registered", typeID)
	}
	if params.Metrics == nil {
		params.Metrics = r.metrics
	}
	idx, err := New(r.conn, params)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot register type %q", typeID)
	}
	r.indices[typeID] = idx
	log.Printf("[DEBUG] type %q registered with alias %s", typeID, idx.Alias())
	return idx, nil
}

// RegisterSubtype makes typeID share the index of baseTypeID, base can be a subtype itself
func (r *Registry) RegisterSubtype(typeID, baseTypeID string) error {
	if r.registered(typeID) {
		return errors.Errorf("type %q already registered", typeID)
	}
	if !r.registered(baseTypeID) {
		return errors.Errorf("base type %q of %q is not registered", baseTypeID, typeID)
	}
	r.bases[typeID] = baseTypeID
	return nil
}

// Index returns index of the type, subtypes resolved to the base type
func (r *Registry) Index(typeID string) (*Index, error) {
	id := typeID
	for {
		if idx, ok := r.indices[id]; ok {
			return idx, nil
		}
		base, ok := r.bases[id]
		if !ok {
			return nil, errors.Errorf("type %q is not registered", typeID)
		}
		id = base
	}
}

// Types returns ids of types owning an index
func (r *Registry) Types() []string {
	res := make([]string, 0, len(r.indices))
	for k := range r.indices {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// CreateAndDeployAll makes and deploys fresh physical index for every registered type.
// Indices are processed in parallel, all errors are collected.
func (r *Registry) CreateAndDeployAll(ctx context.Context) error {
	grp := syncs.NewErrSizedGroup(4)
	for _, typeID := range r.Types() {
		typeID, idx := typeID, r.indices[typeID]
		grp.Go(func() error {
			if _, err := idx.CreateAndDeploy(ctx); err != nil {
				return errors.Wrapf(err, "type %q", typeID)
			}
			return nil
		})
	}
	return grp.Wait()
}

// EnableDeferringAll turns deferring on for every index
func (r *Registry) EnableDeferringAll() {
	for _, idx := range r.indices {
		idx.EnableDeferring()
	}
}

// ResetDeferringAll drops pending batches and open scopes of every index
func (r *Registry) ResetDeferringAll() {
	for _, idx := range r.indices {
		idx.ResetDeferring()
	}
}

// RefreshAll refreshes aliases of all indices
func (r *Registry) RefreshAll(ctx context.Context) error {
	errs := new(multierror.Error)
	for _, typeID := range r.Types() {
		if err := r.indices[typeID].Refresh(ctx, ""); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "cannot refresh %q", typeID))
		}
	}
	return errs.ErrorOrNil()
}

func (r *Registry) registered(typeID string) bool {
	_, isIndex := r.indices[typeID]
	_, isSub := r.bases[typeID]
	return isIndex || isSub
}
