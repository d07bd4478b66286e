package vector

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const (
	DefaultPrefix          = "collections"
	DefaultPersistInterval = 5 * time.Minute
)

// Registry owns the live collection of every owner in this process. It is
// the only place collections are created, so one owner never ends up with
// two indices.
type Registry struct {
	storage     adapter.Storage
	prefix      string
	maxElements int
	dimension   int
	m           int
	efSearch    int

	mu      sync.Mutex
	entries map[string]*entry

	cancel context.CancelFunc
	done   chan struct{}
}

type entry struct {
	ready chan struct{}
	col   *Collection
	err   error
}

type RegistryOption func(*Registry)

func WithPrefix(prefix string) RegistryOption {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

func WithMaxElements(n int) RegistryOption {
	return func(r *Registry) {
		r.maxElements = n
	}
}

func WithRegistryDimension(dim int) RegistryOption {
	return func(r *Registry) {
		r.dimension = dim
	}
}

func WithRegistryGraphParams(m, efSearch int) RegistryOption {
	return func(r *Registry) {
		r.m = m
		r.efSearch = efSearch
	}
}

// NewRegistry creates a registry persisting to storage. A nil storage keeps
// collections in memory only.
func NewRegistry(storage adapter.Storage, opts ...RegistryOption) *Registry {
	r := &Registry{
		storage:     storage,
		prefix:      DefaultPrefix,
		maxElements: DefaultMaxElements,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return goerr.Wrap(&model.InputError{Reason: "owner ID is blank"}, "invalid owner")
	}
	if strings.ContainsAny(owner, `/\`) || strings.Contains(owner, "..") {
		return goerr.Wrap(&model.InputError{Reason: "owner ID contains path characters"},
			"invalid owner", goerr.V("owner", owner))
	}
	return nil
}

// Get returns the collection of owner, loading it from storage or creating
// an empty one on first access. Concurrent first calls share one load. The
// load is detached from ctx so a caller with a short deadline gives up
// waiting without failing the load for everyone else.
func (r *Registry) Get(ctx context.Context, owner string) (*Collection, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	r.mu.Lock()
	e, ok := r.entries[owner]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.entries[owner] = e
		go r.load(context.WithoutCancel(ctx), owner, e)
	}
	r.mu.Unlock()

	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.col, nil
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "waiting for collection", goerr.V("owner", owner))
	}
}

func (r *Registry) load(ctx context.Context, owner string, e *entry) {
	e.col, e.err = r.open(ctx, owner)
	if e.err != nil {
		r.mu.Lock()
		if r.entries[owner] == e {
			delete(r.entries, owner)
		}
		r.mu.Unlock()
	}
	close(e.ready)
}

func (r *Registry) open(ctx context.Context, owner string) (*Collection, error) {
	col := NewCollection(owner,
		WithDimension(r.dimension),
		WithGraphParams(r.m, r.efSearch),
	)

	if r.storage != nil {
		err := col.Load(ctx, r.storage, r.prefix)
		switch {
		case err == nil:
			logging.From(ctx).Info("collection loaded",
				"owner", owner, "size", col.Size(), "tombstones", col.Tombstones())
			return col, nil
		case errors.Is(err, adapter.ErrObjectNotFound):
			// first access for this owner
		default:
			return nil, goerr.Wrap(err, "failed to load collection", goerr.V("owner", owner))
		}
	}

	if err := col.Initialize(r.maxElements); err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("collection created", "owner", owner, "max_elements", r.maxElements)
	return col, nil
}

// Lookup returns an already opened collection without touching storage
func (r *Registry) Lookup(owner string) (*Collection, bool) {
	r.mu.Lock()
	e, ok := r.entries[owner]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-e.ready:
		return e.col, e.err == nil && e.col != nil
	default:
		return nil, false
	}
}

// Owners returns the owners with an opened collection, sorted
func (r *Registry) Owners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	owners := make([]string, 0, len(r.entries))
	for owner := range r.entries {
		owners = append(owners, owner)
	}
	slices.Sort(owners)
	return owners
}

// Persist writes one owner's collection immediately
func (r *Registry) Persist(ctx context.Context, owner string) error {
	if r.storage == nil {
		return nil
	}
	col, ok := r.Lookup(owner)
	if !ok {
		return nil
	}
	return col.Persist(ctx, r.storage, r.prefix, false)
}

// PersistAll writes every changed collection. Failures are logged and
// returned joined; the next call retries them.
func (r *Registry) PersistAll(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}

	var errs []error
	for _, owner := range r.Owners() {
		col, ok := r.Lookup(owner)
		if !ok {
			continue
		}
		if err := col.Persist(ctx, r.storage, r.prefix, false); err != nil {
			logging.From(ctx).Error("failed to persist collection", "owner", owner, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start runs the periodic persist task until ctx is canceled or Close is called
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.PersistAll(ctx)
			}
		}
	}()
}

// Close stops the periodic task and makes one best-effort persist of every
// collection. Changes after the last successful persist are lost if the
// process dies before Close.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return r.PersistAll(ctx)
}

// Drop forgets the collection of owner and deletes its persisted side-table.
// The next Get starts from an empty collection.
func (r *Registry) Drop(ctx context.Context, owner string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}

	r.mu.Lock()
	e, ok := r.entries[owner]
	delete(r.entries, owner)
	r.mu.Unlock()

	if r.storage == nil {
		return nil
	}

	var blob string
	if ok {
		<-e.ready
		if e.col != nil {
			e.col.mu.RLock()
			blob = e.col.blobKey
			e.col.mu.RUnlock()
		}
	} else if table, err := readSideTable(ctx, r.storage, r.prefix, owner); err == nil {
		blob = table.Blob
	}

	if blob != "" {
		if err := r.storage.Delete(ctx, blob); err != nil {
			return goerr.Wrap(&model.PersistenceError{Op: "delete", Key: blob, Err: err}, "failed to drop collection")
		}
	}

	key := SideTableKey(r.prefix, owner)
	if err := r.storage.Delete(ctx, key); err != nil {
		return goerr.Wrap(&model.PersistenceError{Op: "delete", Key: key, Err: err}, "failed to drop collection")
	}
	return nil
}
