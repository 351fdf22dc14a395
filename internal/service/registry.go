package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/repository"
)

// LocalStore is the redundant local copy of the catalog.
type LocalStore interface {
	WriteAll(ctx context.Context, docs []domain.Document) error
	ReadAll(ctx context.Context) []domain.Document
}

// EventPublisher fans change events out to other clients. Delivery is best
// effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent)
}

// SyncRecorder receives sync outcomes for metrics.
type SyncRecorder interface {
	RefreshCompleted(result string)
	PublishCompleted(result string)
	RemoteFailure(op string)
	CatalogSize(n int)
}

type Filters struct {
	DocType string
	Year    int
}

type RegistryOptions struct {
	Capacity       int
	SourceID       string
	NetworkTimeout time.Duration
	Now            func() time.Time
}

type RefreshResult struct {
	Changed      bool
	Count        int
	RemoteErr    error
	RemoteBehind bool
}

type RegistryStatus struct {
	Count       int       `json:"count"`
	SourceID    string    `json:"sourceId"`
	MemoryOnly  bool      `json:"memoryOnly"`
	LastRefresh time.Time `json:"lastRefresh"`
	LastPublish time.Time `json:"lastPublish"`
	Running     bool      `json:"running"`
}

// Registry is the authoritative in-memory catalog of one node. Every
// mutation of the map happens under mu; network and slot I/O happen outside
// it.
type Registry struct {
	mu        sync.Mutex
	docs      map[string]domain.Document
	listeners []func([]domain.Document)
	status    RegistryStatus

	persistMu sync.Mutex

	remote   repository.RemoteStore
	local    LocalStore
	notifier EventPublisher
	metrics  SyncRecorder

	capacity int
	sourceID string
	timeout  time.Duration
	now      func() time.Time

	publishCh chan struct{}
	runMu     sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewRegistry wires a registry. remote, notifier and metrics may be nil; a
// nil remote keeps the node local-only.
func NewRegistry(
	remote repository.RemoteStore,
	local LocalStore,
	notifier EventPublisher,
	metrics SyncRecorder,
	opts RegistryOptions,
) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.NetworkTimeout <= 0 {
		opts.NetworkTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		docs:      make(map[string]domain.Document),
		remote:    remote,
		local:     local,
		notifier:  notifier,
		metrics:   metrics,
		capacity:  opts.Capacity,
		sourceID:  opts.SourceID,
		timeout:   opts.NetworkTimeout,
		now:       opts.Now,
		publishCh: make(chan struct{}, 1),
	}
}

func (r *Registry) SourceID() string {
	return r.sourceID
}

// OnChange registers fn to receive the full ordered catalog after every
// change.
func (r *Registry) OnChange(fn func([]domain.Document)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start launches the background publisher. It is a no-op when already
// running.
func (r *Registry) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.setRunning(true)

	r.wg.Add(1)
	go r.publishLoop(ctx)
}

// Stop cancels the publisher and waits for an in-flight cycle to return.
func (r *Registry) Stop() {
	r.runMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.setRunning(false)
}

// Upsert adds or replaces doc. It never fails: the document is normalized,
// merged, written to every local slot, announced to other clients and queued
// for publishing.
func (r *Registry) Upsert(ctx context.Context, doc domain.Document) domain.Document {
	now := r.now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	normalized := domain.Normalize(doc, now)
	normalized.Origin = domain.OriginLocal

	r.mu.Lock()
	changed := r.mergeLocked([]domain.Document{normalized})
	stored, ok := r.docs[normalized.ID]
	r.mu.Unlock()
	if !ok {
		// dropped by the retention cap
		stored = normalized
	}

	if changed {
		r.persist(ctx)
		r.emitChange()
	}
	if r.notifier != nil {
		r.notifier.Publish(ctx, domain.NewChangeEvent(stored, r.sourceID, now))
	}
	r.schedulePublish()

	return stored
}

// MergeAll folds docs into the registry as copies from origin and reports
// whether anything changed. It performs no I/O.
func (r *Registry) MergeAll(docs []domain.Document, origin domain.Origin) bool {
	stamped := r.ingest(docs, origin)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeLocked(stamped)
}

// ApplyEvent merges a document announced by another client.
func (r *Registry) ApplyEvent(ctx context.Context, ev domain.ChangeEvent) bool {
	if ev.SourceID != "" && ev.SourceID == r.sourceID {
		return false
	}
	if ev.Type != domain.EventDocumentChanged {
		return false
	}
	if !r.MergeAll([]domain.Document{ev.Document}, domain.OriginBroadcast) {
		return false
	}
	r.persist(ctx)
	r.emitChange()
	return true
}

// GetAll returns the catalog newest first, ties broken by identity.
func (r *Registry) GetAll() []domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Registry) Get(id string) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return domain.Document{}, false
	}
	return doc.Clone(), true
}

// Search matches text case-insensitively against title, description,
// subject and tags. Filters are AND-ed; zero values match everything.
func (r *Registry) Search(text string, filters Filters) []domain.Document {
	term := strings.ToLower(strings.TrimSpace(text))
	docType := strings.ToLower(strings.TrimSpace(filters.DocType))

	all := r.GetAll()
	out := make([]domain.Document, 0, len(all))
	for _, doc := range all {
		if docType != "" && doc.DocType != docType {
			continue
		}
		if filters.Year != 0 && doc.Year != filters.Year {
			continue
		}
		if term != "" && !matchesText(doc, term) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func matchesText(doc domain.Document, term string) bool {
	if strings.Contains(strings.ToLower(doc.Title), term) ||
		strings.Contains(strings.ToLower(doc.Description), term) ||
		strings.Contains(strings.ToLower(doc.Subject), term) {
		return true
	}
	for _, tag := range doc.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// ParseYear reads a year filter; anything unparseable means "any year".
func ParseYear(s string) int {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || year < 0 {
		return 0
	}
	return year
}

// Refresh pulls the remote snapshot and every local slot into the registry.
// Remote failures are logged and reported in the result; local data keeps
// being served.
func (r *Registry) Refresh(ctx context.Context) RefreshResult {
	var result RefreshResult
	changed := false

	remoteDocs, remoteErr := r.fetchRemote(ctx)
	switch {
	case remoteErr == nil:
		if r.MergeAll(remoteDocs, domain.OriginRemote) {
			changed = true
		}
	case errors.Is(remoteErr, domain.ErrNotFound):
		log.Printf("[Registry] remote snapshot missing, initializing")
		result.RemoteBehind = true
	case errors.Is(remoteErr, errNoRemote):
	default:
		log.Printf("[Registry] remote fetch failed: %v", remoteErr)
		result.RemoteErr = remoteErr
	}

	if r.local != nil {
		if r.MergeAll(r.local.ReadAll(ctx), domain.OriginLocal) {
			changed = true
		}
	}

	if changed {
		r.persist(ctx)
	}
	r.emitChange()

	if remoteErr == nil && r.remoteBehind(remoteDocs) {
		result.RemoteBehind = true
	}
	if result.RemoteBehind {
		if errors.Is(remoteErr, domain.ErrNotFound) && len(r.GetAll()) == 0 {
			r.initializeRemote(ctx)
		} else {
			r.schedulePublish()
		}
	}

	r.mu.Lock()
	r.status.LastRefresh = r.now().UTC()
	result.Count = len(r.docs)
	r.mu.Unlock()

	result.Changed = changed
	r.recordRefresh(result)
	return result
}

// Publish runs one publish cycle synchronously: merge the latest remote
// snapshot, then overwrite the remote with the merged catalog.
func (r *Registry) Publish(ctx context.Context) error {
	if r.remote == nil {
		return nil
	}

	remoteDocs, err := r.fetchRemote(ctx)
	switch {
	case err == nil:
		if r.MergeAll(remoteDocs, domain.OriginRemote) {
			r.persist(ctx)
			r.emitChange()
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		r.recordPublish("fetch_failed")
		return err
	}

	pushCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.remote.ReplaceSnapshot(pushCtx, r.GetAll()); err != nil {
		r.recordRemoteFailure("replace")
		r.recordPublish("failed")
		return err
	}

	r.mu.Lock()
	r.status.LastPublish = r.now().UTC()
	r.mu.Unlock()
	r.recordPublish("ok")
	return nil
}

func (r *Registry) Status() RegistryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := r.status
	status.Count = len(r.docs)
	status.SourceID = r.sourceID
	return status
}

var errNoRemote = errors.New("no remote store configured")

func (r *Registry) fetchRemote(ctx context.Context) ([]domain.Document, error) {
	if r.remote == nil {
		return nil, errNoRemote
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snap, err := r.remote.FetchSnapshot(fetchCtx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.recordRemoteFailure("fetch")
		}
		return nil, err
	}
	return snap.Documents, nil
}

func (r *Registry) initializeRemote(ctx context.Context) {
	initCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.remote.ReplaceSnapshot(initCtx, []domain.Document{}); err != nil {
		r.recordRemoteFailure("initialize")
		log.Printf("[Registry] failed to initialize remote snapshot: %v", err)
	}
}

// remoteBehind reports whether the registry holds a record the remote
// snapshot lacks or has an older copy of.
func (r *Registry) remoteBehind(remoteDocs []domain.Document) bool {
	remote := make(map[string]domain.Document, len(remoteDocs))
	for _, doc := range r.ingest(remoteDocs, domain.OriginRemote) {
		if existing, ok := remote[doc.ID]; !ok || wins(doc, existing) {
			remote[doc.ID] = doc
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, doc := range r.docs {
		theirs, ok := remote[id]
		if !ok || doc.UploadedAt.After(theirs.UploadedAt) {
			return true
		}
	}
	return false
}

func (r *Registry) ingest(docs []domain.Document, origin domain.Origin) []domain.Document {
	now := r.now()
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		n := domain.Normalize(doc, now)
		n.Origin = origin
		out = append(out, n)
	}
	return out
}

// mergeLocked applies docs and the retention cap. Callers hold mu.
func (r *Registry) mergeLocked(docs []domain.Document) bool {
	changed := false
	for _, doc := range docs {
		existing, ok := r.docs[doc.ID]
		if ok && !wins(doc, existing) {
			continue
		}
		r.docs[doc.ID] = doc
		changed = true
	}

	if len(r.docs) > r.capacity {
		kept := domain.Truncate(r.mapValuesLocked(), r.capacity)
		r.docs = make(map[string]domain.Document, len(kept))
		for _, doc := range kept {
			r.docs[doc.ID] = doc
		}
	}
	return changed
}

// wins reports whether a should replace b. The order is total: later upload
// time, then origin rank, then the larger canonical encoding.
func wins(a, b domain.Document) bool {
	if !a.UploadedAt.Equal(b.UploadedAt) {
		return a.UploadedAt.After(b.UploadedAt)
	}
	if a.Origin.Rank() != b.Origin.Rank() {
		return a.Origin.Rank() > b.Origin.Rank()
	}
	return bytes.Compare(canonical(a), canonical(b)) > 0
}

func canonical(doc domain.Document) []byte {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return data
}

func (r *Registry) mapValuesLocked() []domain.Document {
	out := make([]domain.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, doc.Clone())
	}
	return out
}

func (r *Registry) sortedLocked() []domain.Document {
	out := r.mapValuesLocked()
	domain.SortByRecency(out)
	return out
}

// persist writes the current catalog to every local slot. persistMu orders
// concurrent writers so the last write always carries the latest catalog.
func (r *Registry) persist(ctx context.Context) {
	if r.local == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	err := r.local.WriteAll(ctx, r.GetAll())

	r.mu.Lock()
	wasMemoryOnly := r.status.MemoryOnly
	r.status.MemoryOnly = errors.Is(err, domain.ErrQuotaExceeded)
	r.mu.Unlock()

	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		if !wasMemoryOnly {
			log.Printf("[Registry] local storage full, continuing memory-only")
		}
	case err != nil:
		log.Printf("[Registry] local write failed: %v", err)
	}
}

func (r *Registry) emitChange() {
	r.mu.Lock()
	listeners := append(([]func([]domain.Document))(nil), r.listeners...)
	docs := r.sortedLocked()
	size := len(docs)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.CatalogSize(size)
	}
	for _, fn := range listeners {
		fn(docs)
	}
}

func (r *Registry) schedulePublish() {
	if r.remote == nil {
		return
	}
	select {
	case r.publishCh <- struct{}{}:
	default:
	}
}

func (r *Registry) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.publishCh:
			if err := r.Publish(ctx); err != nil {
				log.Printf("[Registry] publish failed, will retry on next refresh: %v", err)
			}
		}
	}
}

func (r *Registry) setRunning(running bool) {
	r.mu.Lock()
	r.status.Running = running
	r.mu.Unlock()
}

func (r *Registry) recordRefresh(result RefreshResult) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	if result.RemoteErr != nil {
		outcome = "remote_failed"
	}
	r.metrics.RefreshCompleted(outcome)
	r.metrics.CatalogSize(result.Count)
}

func (r *Registry) recordPublish(result string) {
	if r.metrics != nil {
		r.metrics.PublishCompleted(result)
	}
}

func (r *Registry) recordRemoteFailure(op string) {
	if r.metrics != nil {
		r.metrics.RemoteFailure(op)
	}
}
