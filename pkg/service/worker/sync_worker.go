package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/secmon-lab/changegate/pkg/utils/metrics"
)

const (
	DefaultSyncInterval   = 15 * time.Minute
	DefaultMaxElapsedTime = 5 * time.Minute
)

// SyncWorker periodically pulls server changes into the local store and
// pushes local changes to the server. Errors never leave the worker; a failed
// cycle is retried with backoff when the network is unavailable and otherwise
// left for the next tick.
//
// Architecture assumptions:
// - One worker per local store
type SyncWorker struct {
	repo   interfaces.Repository
	remote interfaces.RemoteClient

	interval        time.Duration
	maxElapsed      time.Duration
	initialInterval time.Duration
	now             func() time.Time

	enabled   atomic.Bool
	cycleMu   sync.Mutex
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// SyncWorkerOption configures SyncWorker
type SyncWorkerOption func(*SyncWorker)

func WithSyncInterval(d time.Duration) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.interval = d
	}
}

// WithMaxElapsedTime bounds the retries of one cycle
func WithMaxElapsedTime(d time.Duration) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.maxElapsed = d
	}
}

// WithInitialBackoff sets the first retry delay
func WithInitialBackoff(d time.Duration) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.initialInterval = d
	}
}

func WithSyncClock(now func() time.Time) SyncWorkerOption {
	return func(w *SyncWorker) {
		w.now = now
	}
}

// NewSyncWorker creates a worker syncing repo with remote. The worker starts enabled.
func NewSyncWorker(repo interfaces.Repository, remote interfaces.RemoteClient, opts ...SyncWorkerOption) *SyncWorker {
	w := &SyncWorker{
		repo:            repo,
		remote:          remote,
		interval:        DefaultSyncInterval,
		maxElapsed:      DefaultMaxElapsedTime,
		initialInterval: backoff.DefaultInitialInterval,
		now:             time.Now,
		triggerCh:       make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	w.enabled.Store(true)

	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetEnabled turns background sync on or off without stopping the worker
func (w *SyncWorker) SetEnabled(enabled bool) {
	w.enabled.Store(enabled)
}

// Start begins the background sync loop. The first cycle runs immediately.
func (w *SyncWorker) Start(ctx context.Context) error {
	logging.From(ctx).Info("sync worker starting", "interval", w.interval.String())
	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and waits for the running cycle to finish
func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() {
		logging.Default().Info("sync worker stopping")
		close(w.stopCh)
		<-w.doneCh
		logging.Default().Info("sync worker stopped")
	})
}

// Trigger requests a cycle as soon as possible. It never blocks.
func (w *SyncWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.cycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.cycle(ctx)

		case <-w.triggerCh:
			w.cycle(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("sync worker context cancelled")
			return
		}
	}
}

func (w *SyncWorker) cycle(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil {
		// left for the next tick
		logging.From(ctx).Warn("sync cycle failed", "error", err.Error())
	}
}

// RunOnce performs a single pull and push cycle
func (w *SyncWorker) RunOnce(ctx context.Context) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	if !w.enabled.Load() {
		metrics.RecordSyncRun(metrics.ResultSkipped)
		return nil
	}

	state, err := w.repo.GetSyncState(ctx)
	if err != nil {
		metrics.RecordSyncRun(metrics.ResultError)
		return goerr.Wrap(err, "failed to load sync state")
	}
	if !state.HasValidToken(w.now()) {
		logging.From(ctx).Debug("sync skipped, no valid token", "state", *state)
		metrics.RecordSyncRun(metrics.ResultSkipped)
		return nil
	}

	state.LastAttemptAt = w.now().UTC()
	if err := w.repo.PutSyncState(ctx, state); err != nil {
		metrics.RecordSyncRun(metrics.ResultError)
		return goerr.Wrap(err, "failed to save sync attempt")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxElapsedTime = w.maxElapsed

	err = backoff.Retry(func() error {
		if err := w.syncOnce(ctx, state); err != nil {
			if errors.Is(err, model.ErrNetworkUnavailable) {
				logging.From(ctx).Debug("sync attempt failed, retrying", "error", err.Error())
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		metrics.RecordSyncRun(metrics.ResultError)
		if errors.Is(err, model.ErrUnauthorized) {
			logging.From(ctx).Warn("sync rejected by server, login again with `changegate login`")
		}
		return err
	}

	state.LastSuccessAt = w.now().UTC()
	if err := w.repo.PutSyncState(ctx, state); err != nil {
		metrics.RecordSyncRun(metrics.ResultError)
		return goerr.Wrap(err, "failed to save sync success")
	}

	metrics.RecordSyncRun(metrics.ResultOK)
	return nil
}

// syncOnce pulls then pushes. Each cursor is saved as soon as its step succeeds.
func (w *SyncWorker) syncOnce(ctx context.Context, state *model.SyncState) error {
	pulled, err := w.remote.Pull(ctx, state.Token, state.PulledAt)
	if err != nil {
		return err
	}
	imported, err := w.repo.Sync().Import(ctx, pulled)
	if err != nil {
		return goerr.Wrap(err, "failed to import pulled records")
	}
	for _, c := range imported.Conflicts {
		logging.From(ctx).Warn("pulled change request conflicts with local data",
			"id", c.ChangeRequestID, "ticket_id", c.TicketID, "reason", c.Reason)
	}
	metrics.RecordSyncRecords("pull", pulled.Len())

	if !pulled.Until.IsZero() {
		state.PulledAt = pulled.Until
		if err := w.repo.PutSyncState(ctx, state); err != nil {
			return goerr.Wrap(err, "failed to save pull cursor")
		}
	}

	pushStart := w.now().UTC().Add(-model.SyncOverlap)
	local, err := w.repo.Sync().Export(ctx, state.PushedAt, interfaces.SyncScope{})
	if err != nil {
		return goerr.Wrap(err, "failed to export local records")
	}
	pushedAt := pushStart
	if local.Len() > 0 {
		result, err := w.remote.Push(ctx, state.Token, local)
		if err != nil {
			return err
		}
		for _, c := range result.Conflicts {
			logging.From(ctx).Warn("server rejected change request",
				"id", c.ChangeRequestID, "ticket_id", c.TicketID, "reason", c.Reason)
		}
		metrics.RecordSyncRecords("push", local.Len())

		if err := w.confirmTickets(ctx, local, result.Assigned); err != nil {
			return err
		}
		pushedAt = pushCursor(pushStart, local, result.Conflicts)
	}

	state.PushedAt = pushedAt
	if err := w.repo.PutSyncState(ctx, state); err != nil {
		return goerr.Wrap(err, "failed to save push cursor")
	}

	logging.From(ctx).Info("sync completed", "pulled", pulled.Len(), "pushed", local.Len())
	return nil
}

// confirmTickets replaces provisional tickets of pushed records with the
// numbers the server assigned
func (w *SyncWorker) confirmTickets(ctx context.Context, pushed *model.SyncBatch, assigned []model.TicketAssignment) error {
	if len(assigned) == 0 {
		return nil
	}
	tickets := make(map[types.ChangeRequestID]model.TicketID, len(assigned))
	for _, a := range assigned {
		tickets[a.ChangeRequestID] = a.TicketID
	}

	confirmed := &model.SyncBatch{}
	for _, cr := range pushed.ChangeRequests {
		ticketID, ok := tickets[cr.ID]
		if !ok {
			continue
		}
		c := cr.Clone()
		c.TicketID = ticketID
		confirmed.ChangeRequests = append(confirmed.ChangeRequests, c)
	}
	for _, n := range pushed.Notifications {
		if ticketID, ok := tickets[n.ChangeRequestID]; ok {
			confirmed.Notifications = append(confirmed.Notifications, n.WithTicket(ticketID))
		}
	}

	result, err := w.repo.Sync().Import(ctx, confirmed)
	if err != nil {
		return goerr.Wrap(err, "failed to apply assigned tickets")
	}
	for _, c := range result.Conflicts {
		logging.From(ctx).Warn("assigned ticket conflicts with local data",
			"id", c.ChangeRequestID, "ticket_id", c.TicketID, "reason", c.Reason)
	}
	for _, a := range assigned {
		logging.From(ctx).Info("ticket assigned", "id", a.ChangeRequestID, "provisional", a.Provisional, "ticket_id", a.TicketID)
	}
	return nil
}

// pushCursor returns the next push cursor. It stays before every change
// request the server rejected so they are pushed again next cycle.
func pushCursor(pushStart time.Time, pushed *model.SyncBatch, conflicts []model.ImportConflict) time.Time {
	if len(conflicts) == 0 {
		return pushStart
	}
	rejected := make(map[types.ChangeRequestID]bool, len(conflicts))
	for _, c := range conflicts {
		rejected[c.ChangeRequestID] = true
	}
	cursor := pushStart
	for _, cr := range pushed.ChangeRequests {
		if rejected[cr.ID] && !cr.UpdatedAt.After(cursor) {
			cursor = cr.UpdatedAt.Add(-time.Nanosecond)
		}
	}
	return cursor
}
