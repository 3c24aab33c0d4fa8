package bookmarks

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Remote is the service surface the Synchronizer needs. Implemented by
// Service.
type Remote interface {
	List(ctx context.Context, f Filter) ([]Entry, error)
	Create(ctx context.Context, nb NewBookmark) (*Entry, error)
	Update(ctx context.Context, id int64, p Patch) (*Entry, error)
	Delete(ctx context.Context, id int64) error
}

// Failure describes an optimistic mutation the service refused.
type Failure struct {
	ID int64
	Op string
	// RolledBack is false when a Load replaced the mirror before the
	// failure arrived; the mirror then already holds server truth.
	RolledBack bool
	Err        error
}

// Pending is the outcome of an optimistic mutation that may not have
// reached the service yet.
type Pending struct {
	ID   int64
	done chan struct{}
	err  error
}

func newPending(id int64) *Pending {
	return &Pending{ID: id, done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the remote call settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the remote call settles and returns its error.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type opKind int

const (
	opPatch opKind = iota
	opRemove
)

func (k opKind) String() string {
	if k == opRemove {
		return "delete"
	}

	return "update"
}

// slot is an entry's place in the mirror, or its absence.
type slot struct {
	present bool
	index   int
	entry   Entry
}

// op is one queued mutation of a single id.
type op struct {
	ctx        context.Context
	kind       opKind
	patch      Patch
	before     slot
	generation uint64
	pending    *Pending
}

// Synchronizer holds a local mirror of the bookmark list. Mutations show in
// the mirror at once and reach the service in the background; a refused
// mutation is undone and reported.
//
// Remote calls for one id run in order through a per-id queue. Calls for
// different ids run concurrently.
type Synchronizer struct {
	remote    Remote
	logger    *slog.Logger
	nowFunc   func() time.Time
	onFailure func(Failure)

	mu         sync.Mutex
	filter     Filter
	entries    []Entry
	generation uint64
	queues     map[int64][]*op
	// order is the id sequence as last loaded, still holding ids removed
	// locally until their delete succeeds.
	order []int64

	inflight sync.WaitGroup
}

// NewSynchronizer returns an empty Synchronizer with the Active filter.
// onFailure, if non-nil, is called (outside any lock) for every refused
// mutation.
func NewSynchronizer(remote Remote, logger *slog.Logger, onFailure func(Failure)) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		remote:    remote,
		logger:    logger,
		nowFunc:   time.Now,
		onFailure: onFailure,
		queues:    make(map[int64][]*op),
	}
}

// Load fetches the list for f and replaces the mirror with exactly what the
// service returned. On error the mirror is left unchanged.
func (s *Synchronizer) Load(ctx context.Context, f Filter) ([]Entry, error) {
	entries, err := s.remote.List(ctx, f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.filter = f
	s.entries = cloneAll(entries)
	s.order = idsOf(s.entries)
	s.generation++
	out := cloneAll(s.entries)
	s.mu.Unlock()

	s.logger.Debug("mirror loaded",
		slog.String("filter", f.String()),
		slog.Int("count", len(out)),
	)

	return out, nil
}

// Entries returns a copy of the mirror.
func (s *Synchronizer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneAll(s.entries)
}

// Visible returns the mirror entries that match the active filter. An entry
// archived optimistically under the Active filter stays in the mirror until
// the next Load but is no longer visible.
func (s *Synchronizer) Visible() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))

	for _, e := range s.entries {
		if s.filter.Matches(e) {
			out = append(out, e.clone())
		}
	}

	return out
}

// Filter returns the filter of the last successful Load.
func (s *Synchronizer) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter
}

// Lookup returns the mirror entry for id.
func (s *Synchronizer) Lookup(id int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Entry{}, false
	}

	return s.entries[i].clone(), true
}

// Create adds a bookmark on the service and, once it exists, puts it at the
// head of the mirror if the active filter shows it. Creation is not
// optimistic: the service assigns the ID.
func (s *Synchronizer) Create(ctx context.Context, nb NewBookmark) (*Entry, error) {
	e, err := s.remote.Create(ctx, nb)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.filter.Matches(*e) && s.indexLocked(e.ID) < 0 {
		s.entries = append([]Entry{e.clone()}, s.entries...)
		s.order = append([]int64{e.ID}, s.order...)
	}
	s.mu.Unlock()

	return e, nil
}

// Mutate applies p to the mirror entry for id now and sends it to the
// service in the background. If the id is not in the mirror the call is
// still sent.
func (s *Synchronizer) Mutate(ctx context.Context, id int64, p Patch) *Pending {
	return s.enqueue(ctx, id, &op{kind: opPatch, patch: p})
}

// Archive is Mutate with only the archived flag set.
func (s *Synchronizer) Archive(ctx context.Context, id int64, archived bool) *Pending {
	return s.Mutate(ctx, id, ArchivePatch(archived))
}

// Remove drops id from the mirror now and deletes it on the service in the
// background.
func (s *Synchronizer) Remove(ctx context.Context, id int64) *Pending {
	return s.enqueue(ctx, id, &op{kind: opRemove})
}

// Wait blocks until every mutation issued so far has settled.
func (s *Synchronizer) Wait() {
	s.inflight.Wait()
}

func (s *Synchronizer) enqueue(ctx context.Context, id int64, o *op) *Pending {
	o.ctx = ctx
	o.pending = newPending(id)

	s.mu.Lock()
	o.generation = s.generation
	o.before = s.applyLocked(id, o)

	s.inflight.Add(1)

	q := s.queues[id]
	s.queues[id] = append(q, o)
	start := len(q) == 0
	s.mu.Unlock()

	if start {
		go s.drain(id)
	}

	return o.pending
}

// drain sends the queued mutations for id one at a time.
func (s *Synchronizer) drain(id int64) {
	for {
		s.mu.Lock()
		head := s.queues[id][0]
		s.mu.Unlock()

		err := s.send(head.ctx, id, head)

		var failure *Failure

		s.mu.Lock()
		switch {
		case err != nil:
			failure = &Failure{ID: id, Op: head.kind.String(), Err: err}
			failure.RolledBack = s.rollbackLocked(id, head)
		case head.kind == opRemove:
			s.forgetLocked(id)
		}

		rest := s.queues[id][1:]
		if len(rest) == 0 {
			delete(s.queues, id)
		} else {
			s.queues[id] = rest
		}
		s.mu.Unlock()

		if failure != nil {
			s.logger.Warn("optimistic change refused",
				slog.Int64("id", id),
				slog.String("op", failure.Op),
				slog.Bool("rolled_back", failure.RolledBack),
				slog.String("error", err.Error()),
			)

			if s.onFailure != nil {
				s.onFailure(*failure)
			}
		}

		head.pending.resolve(err)
		s.inflight.Done()

		if len(rest) == 0 {
			return
		}
	}
}

func (s *Synchronizer) send(ctx context.Context, id int64, o *op) error {
	if o.kind == opRemove {
		return s.remote.Delete(ctx, id)
	}

	_, err := s.remote.Update(ctx, id, o.patch)

	return err
}

// rollbackLocked restores id to its state before the failed op and then
// re-applies the still-queued later ops for id on top. Nothing is undone if
// a Load has replaced the mirror since the op was applied.
func (s *Synchronizer) rollbackLocked(id int64, failed *op) bool {
	if failed.generation != s.generation {
		return false
	}

	s.restoreLocked(id, failed.before)

	for _, later := range s.queues[id][1:] {
		if later.generation != s.generation {
			continue
		}

		later.before = s.applyLocked(id, later)
	}

	return true
}

// applyLocked applies o to the mirror and returns the slot it replaced.
func (s *Synchronizer) applyLocked(id int64, o *op) slot {
	i := s.indexLocked(id)
	if i < 0 {
		return slot{}
	}

	before := slot{present: true, index: i, entry: s.entries[i].clone()}

	switch o.kind {
	case opRemove:
		s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	case opPatch:
		o.patch.applyTo(&s.entries[i], s.nowFunc())
	}

	return before
}

// restoreLocked puts id back the way sl describes.
func (s *Synchronizer) restoreLocked(id int64, sl slot) {
	i := s.indexLocked(id)

	switch {
	case !sl.present:
		// The op never touched the mirror.
	case i >= 0:
		s.entries[i] = sl.entry.clone()
	default:
		at := s.insertAtLocked(id, sl.index)
		s.entries = append(s.entries[:at:at], append([]Entry{sl.entry.clone()}, s.entries[at:]...)...)
	}
}

// insertAtLocked returns where a removed id goes back: before the first id
// after it in the loaded order that is still in the mirror. The index it was
// removed from goes stale once other removes roll back, so it is only the
// fallback for ids the loaded order does not know.
func (s *Synchronizer) insertAtLocked(id int64, fallback int) int {
	pos := slices.Index(s.order, id)
	if pos < 0 {
		return min(fallback, len(s.entries))
	}

	for _, next := range s.order[pos+1:] {
		if i := s.indexLocked(next); i >= 0 {
			return i
		}
	}

	return len(s.entries)
}

// forgetLocked drops id from the loaded order once its delete succeeded.
func (s *Synchronizer) forgetLocked(id int64) {
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

func (s *Synchronizer) indexLocked(id int64) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}

	return -1
}

func idsOf(entries []Entry) []int64 {
	ids := make([]int64, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}

	return ids
}

func cloneAll(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}

	return out
}
