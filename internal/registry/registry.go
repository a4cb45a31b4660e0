// Package registry owns the set of report subscribers.
//
// The in-memory set and the store are equal whenever a mutating call
// returns successfully: each change is flushed while the lock is held and
// rolled back if the flush fails.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"reportbot/internal/eventbus"
	"reportbot/internal/storage"
	logx "reportbot/pkg/logx"
)

var (
	ErrRegistryCorrupt   = errors.New("registry corrupt")
	ErrStoreUnreadable   = errors.New("registry store unreadable")
	ErrPersistenceFailed = errors.New("registry persistence failed")
	ErrInvalidID         = errors.New("invalid subscriber id")
	ErrNotLoaded         = errors.New("registry not loaded")
)

// Store is the persistence the registry needs.
type Store interface {
	ReadAll(ctx context.Context) ([]string, error)
	WriteAll(ctx context.Context, ids []string) error
}

// Auditor is implemented by stores that keep a mutation log.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Registry struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	mu     sync.Mutex
	set    map[string]struct{}
	loaded bool
}

type Option func(*Registry)

func WithBus(b eventbus.Bus) Option {
	return func(r *Registry) {
		if b != nil {
			r.bus = b
		}
	}
}

func New(store Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		store: store,
		log:   log.With(logx.String("comp", "registry")),
		bus:   eventbus.Nop(),
		set:   map[string]struct{}{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load reads the store. A missing store starts an empty registry and
// persists it; corrupt or unreadable content is returned as an error and
// the registry stays unusable.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.store.ReadAll(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if werr := r.store.WriteAll(ctx, []string{}); werr != nil {
			return fmt.Errorf("%w: init empty store: %v", ErrPersistenceFailed, werr)
		}
		ids = nil
		r.log.Info("registry store created")
	case errors.Is(err, storage.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrRegistryCorrupt, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreUnreadable, err)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.set = set
	r.loaded = true
	r.log.Info("registry loaded", logx.Int("subscribers", len(set)))
	return nil
}

// Add registers id. It reports whether id was new; adding a present id does
// not touch the store.
func (r *Registry) Add(ctx context.Context, id string) (bool, error) {
	id, err := normalizeID(id)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return false, ErrNotLoaded
	}
	if _, ok := r.set[id]; ok {
		return false, nil
	}

	r.set[id] = struct{}{}
	if err := r.flushLocked(ctx); err != nil {
		delete(r.set, id)
		r.log.Error("add not persisted", logx.String("subscriber", id), logx.Err(err))
		return false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	r.auditLocked(ctx, "subscriber.add", id)
	r.bus.Publish(eventbus.Event{Type: eventbus.SubscriberAdded, Data: id})
	r.log.Info("subscriber added", logx.String("subscriber", id), logx.Int("subscribers", len(r.set)))
	return true, nil
}

// Remove unregisters id. Removing an absent id is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return false, ErrNotLoaded
	}
	if _, ok := r.set[id]; !ok {
		return false, nil
	}

	delete(r.set, id)
	if err := r.flushLocked(ctx); err != nil {
		r.set[id] = struct{}{}
		r.log.Error("remove not persisted", logx.String("subscriber", id), logx.Err(err))
		return false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	r.auditLocked(ctx, "subscriber.remove", id)
	r.bus.Publish(eventbus.Event{Type: eventbus.SubscriberRemoved, Data: id})
	r.log.Info("subscriber removed", logx.String("subscriber", id), logx.String("reason", ReasonFrom(ctx)), logx.Int("subscribers", len(r.set)))
	return true, nil
}

// Snapshot returns a sorted copy of the current identifiers.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.set))
	for id := range r.set {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.set)
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[strings.TrimSpace(id)]
	return ok
}

func (r *Registry) flushLocked(ctx context.Context) error {
	ids := make([]string, 0, len(r.set))
	for id := range r.set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	// The flush must finish even if the caller gives up, otherwise memory
	// and disk could disagree about a change we already applied.
	return r.store.WriteAll(context.WithoutCancel(ctx), ids)
}

func (r *Registry) auditLocked(ctx context.Context, action, id string) {
	a, ok := r.store.(Auditor)
	if !ok {
		return
	}
	e := storage.AuditEntry{
		At:         time.Now(),
		Action:     action,
		Subscriber: id,
		Reason:     ReasonFrom(ctx),
		ActorID:    ActorFrom(ctx),
		RunID:      RunIDFrom(ctx),
	}
	if err := a.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidID, id)
	}
	return id, nil
}
