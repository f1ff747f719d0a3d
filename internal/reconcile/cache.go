// Package reconcile keeps a client-side view of entity status in sync with
// the store. Push events are a best-effort hint; a delayed one-shot poll per
// touched entity is the correctness backstop, and a channel error forces a
// full resync of the scope.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/notify"
)

// Origin tags how a cached status was learned.
type Origin int

const (
	// Optimistic values were written locally before any confirmation.
	Optimistic Origin = iota
	// Confirmed values came from the store, via push or poll.
	Confirmed
)

// Record is one cached entity status.
type Record struct {
	Table    string
	EntityID string
	Status   string
	Origin   Origin
}

// StatusReader is the read-only slice of the store the cache polls against.
type StatusReader interface {
	GetEntityStatus(ctx context.Context, table, id string) (string, bool, error)
	ListEntityStatuses(ctx context.Context, table, projectID string) (map[string]string, error)
}

// Cache converges one project's entity statuses.
type Cache struct {
	projectID string
	reader    StatusReader
	pollDelay time.Duration
	tables    []string

	mu      sync.Mutex
	entries map[string]Record
	wg      sync.WaitGroup
}

// New builds a cache scoped to a project. tables lists the entity tables the
// scope covers; Resync reloads each of them.
func New(projectID string, reader StatusReader, pollDelay time.Duration, tables []string) *Cache {
	return &Cache{
		projectID: projectID,
		reader:    reader,
		pollDelay: pollDelay,
		tables:    tables,
		entries:   make(map[string]Record),
	}
}

func key(table, id string) string { return table + "/" + id }

// ApplyOptimistic records the local transition taken at action time, before
// any network confirmation, and schedules the corrective poll.
func (c *Cache) ApplyOptimistic(ctx context.Context, table, id, status string) {
	c.mu.Lock()
	c.entries[key(table, id)] = Record{Table: table, EntityID: id, Status: status, Origin: Optimistic}
	c.mu.Unlock()

	c.schedulePoll(ctx, table, id)
}

// HandleEvent applies a pushed change. Confirmed state always overwrites an
// optimistic one regardless of arrival order; the server is the sole mutator
// of terminal status, so last write wins among confirmed values.
func (c *Cache) HandleEvent(ev notify.Event) {
	if ev.ProjectID != c.projectID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(ev.Table, ev.EntityID)] = Record{
		Table:    ev.Table,
		EntityID: ev.EntityID,
		Status:   ev.Status,
		Origin:   Confirmed,
	}
}

// schedulePoll arranges a one-shot delayed re-fetch of the entity. The poll
// is a pure read and never re-triggers work.
func (c *Cache) schedulePoll(ctx context.Context, table, id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollDelay):
		}
		c.poll(ctx, table, id)
	}()
}

func (c *Cache) poll(ctx context.Context, table, id string) {
	status, found, err := c.reader.GetEntityStatus(ctx, table, id)
	if err != nil {
		log.Warn().Err(err).Str("entity_id", id).Msg("reconcile poll failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !found {
		delete(c.entries, key(table, id))
		return
	}
	c.entries[key(table, id)] = Record{Table: table, EntityID: id, Status: status, Origin: Confirmed}
}

// Resync replaces the whole scope with authoritative state. Used at startup
// and whenever the push channel errors.
func (c *Cache) Resync(ctx context.Context) error {
	fresh := make(map[string]Record)
	for _, table := range c.tables {
		statuses, err := c.reader.ListEntityStatuses(ctx, table, c.projectID)
		if err != nil {
			return err
		}
		for id, status := range statuses {
			fresh[key(table, id)] = Record{Table: table, EntityID: id, Status: status, Origin: Confirmed}
		}
	}

	c.mu.Lock()
	c.entries = fresh
	c.mu.Unlock()
	return nil
}

// Consume applies pushed events until the context ends. A closed or errored
// channel triggers a full resync rather than trusting the stream to heal.
func (c *Cache) Consume(ctx context.Context, events <-chan notify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if err := c.Resync(ctx); err != nil {
					log.Error().Err(err).Msg("resync after stream close failed")
				}
				return
			}
			c.HandleEvent(ev)
		case <-errs:
			if err := c.Resync(ctx); err != nil {
				log.Error().Err(err).Msg("resync after stream error failed")
			}
		}
	}
}

// Status returns the cached status for an entity.
func (c *Cache) Status(table, id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key(table, id)]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Record returns the full cached record, including its origin.
func (c *Cache) Record(table, id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key(table, id)]
	return rec, ok
}

// Wait blocks until all scheduled polls have fired. Test helper.
func (c *Cache) Wait() { c.wg.Wait() }
