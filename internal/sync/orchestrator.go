package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/state"
)

const (
	otelScope     = "familywall/sync"
	spanSyncAll   = "sync.all"
	spanSyncOne   = "sync.calendar"
	metricInsert  = "familywall.sync.events.inserted"
	metricUpdate  = "familywall.sync.events.updated"
	metricDelete  = "familywall.sync.events.deleted"
	metricSkipped = "familywall.sync.events.skipped"
	metricErrors  = "familywall.sync.errors"
	metricFetch   = "familywall.sync.fetch.duration"
)

// Orchestrator defaults.
const (
	DefaultStartupDelay = 5 * time.Second
	DefaultRetryDelay   = 5 * time.Minute
	DefaultFetchTimeout = 2 * time.Minute
	DefaultCacheTTL     = 15 * time.Minute
)

// Triggers recorded on each run.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Per-calendar outcomes reported in [CalendarStatus].
const (
	OutcomeSynced     = "synced"
	OutcomeNoAuth     = "skipped_auth"
	OutcomeNoStrategy = "skipped_no_strategy"
	OutcomeFailed     = "failed"

	// OutcomeStale means a cached copy was reconciled because the provider
	// was unreachable. The calendar's last sync time is not advanced.
	OutcomeStale = "stale"
)

// Config tunes the Orchestrator. Zero values take the defaults above; a
// negative StartupDelay starts the first run immediately.
type Config struct {
	StartupDelay time.Duration
	RetryDelay   time.Duration
	FetchTimeout time.Duration
	CacheTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	} else if c.StartupDelay == 0 {
		c.StartupDelay = DefaultStartupDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Notification is published to subscribers after every completed run.
type Notification struct {
	RunID      string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Calendars  int
	Failed     int
	Stats      Stats

	// Err is the persistence error returned by the run, if any.
	Err error
}

// CalendarStatus is the last known outcome for one calendar.
type CalendarStatus struct {
	Key       model.CalendarKey
	Name      string
	Outcome   string
	LastRun   time.Time
	LastError string
	Stats     Stats
}

// Status is a point-in-time snapshot of the Orchestrator.
type Status struct {
	Running      bool
	Runs         int64
	LastRunID    string
	LastTrigger  string
	LastSyncTime time.Time
	LastDuration time.Duration
	LastError    string
	Totals       Stats
	Calendars    []CalendarStatus
}

// Orchestrator runs the sync loop: it fans out one fetch and reconcile per
// enabled calendar, sleeps for the registry's minimum interval and repeats.
// Create one with [NewOrchestrator] and start it with [Orchestrator.Run].
type Orchestrator struct {
	registry   CalendarRegistry
	strategies StrategyLookup
	reconciler *Reconciler
	auth       AuthChecker
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	tracer     trace.Tracer
	cntInsert  metric.Int64Counter
	cntUpdate  metric.Int64Counter
	cntDelete  metric.Int64Counter
	cntSkipped metric.Int64Counter
	cntErrors  metric.Int64Counter
	histFetch  metric.Float64Histogram

	statusMu gosync.Mutex
	running  int
	status   Status
	perCal   map[model.CalendarKey]CalendarStatus

	manualMu gosync.Mutex
	manual   *manualRun

	subMu   gosync.Mutex
	subs    map[int]chan Notification
	nextSub int
}

type manualRun struct {
	done chan struct{}
	err  error
}

// NewOrchestrator creates an Orchestrator. auth may be nil, in which case
// every source is treated as authenticated.
func NewOrchestrator(registry CalendarRegistry, strategies StrategyLookup, reconciler *Reconciler, auth AuthChecker, cfg Config, logger *slog.Logger) *Orchestrator {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}
	hist, err := meter.Float64Histogram(metricFetch,
		metric.WithDescription("Duration of provider fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("creating OTel histogram", "name", metricFetch, "error", err)
		hist = noop.Float64Histogram{}
	}

	return &Orchestrator{
		registry:   registry,
		strategies: strategies,
		reconciler: reconciler,
		auth:       auth,
		cfg:        cfg.withDefaults(),
		log:        logger,
		now:        time.Now,
		sleep:      sleep,

		tracer:     tracer,
		cntInsert:  mustCounter(metricInsert, "Number of events inserted during sync"),
		cntUpdate:  mustCounter(metricUpdate, "Number of events updated during sync"),
		cntDelete:  mustCounter(metricDelete, "Number of events deleted during sync"),
		cntSkipped: mustCounter(metricSkipped, "Number of events skipped because another calendar owns the key"),
		cntErrors:  mustCounter(metricErrors, "Number of errors encountered during sync"),
		histFetch:  hist,

		perCal: make(map[model.CalendarKey]CalendarStatus),
		subs:   make(map[int]chan Notification),
	}
}

// Run waits for the startup delay, then syncs every enabled calendar,
// sleeps for [Orchestrator.NextInterval] and repeats. A run that fails with
// a persistence or registry error is retried after the retry delay. Run
// blocks until ctx is cancelled and returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("sync orchestrator starting", "startup_delay", o.cfg.StartupDelay)
	if err := o.sleep(ctx, o.cfg.StartupDelay); err != nil {
		return err
	}

	for {
		wait := o.cfg.RetryDelay
		if err := o.syncAll(ctx, TriggerScheduled); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Error("sync run failed, backing off", "error", err, "retry_in", wait)
		} else {
			wait = o.NextInterval(ctx)
		}

		o.log.Debug("next sync scheduled", "in", wait)
		if err := o.sleep(ctx, wait); err != nil {
			o.log.Info("sync orchestrator shutting down")
			return err
		}
	}
}

// NextInterval returns the time until the next scheduled run. If the
// registry cannot be read the retry delay is used.
func (o *Orchestrator) NextInterval(ctx context.Context) time.Duration {
	d, err := o.registry.MinimumInterval(ctx, o.cfg.CacheTTL)
	if err != nil {
		o.log.Error("computing sync interval", "error", err)
		return o.cfg.RetryDelay
	}
	return d
}

// SyncAll syncs every enabled calendar concurrently and waits for all of
// them. Failures of individual calendars are logged and recorded in the
// status; only registry and persistence failures are returned.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	return o.syncAll(ctx, TriggerScheduled)
}

// TriggerManualSync runs a sync immediately without disturbing the loop's
// timer. A call made while another manual sync is in flight waits for that
// run and returns its result.
func (o *Orchestrator) TriggerManualSync(ctx context.Context) error {
	o.manualMu.Lock()
	if run := o.manual; run != nil {
		o.manualMu.Unlock()
		o.log.Debug("manual sync already running, waiting for it")
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &manualRun{done: make(chan struct{})}
	o.manual = run
	o.manualMu.Unlock()

	o.log.Info("manual sync triggered")
	run.err = o.syncAll(ctx, TriggerManual)

	o.manualMu.Lock()
	o.manual = nil
	o.manualMu.Unlock()
	close(run.done)
	return run.err
}

// SyncOne syncs a single calendar. A calendar whose source is not
// authenticated or has no strategy is skipped and reported as a nil error.
func (o *Orchestrator) SyncOne(ctx context.Context, cal *model.CalendarConfiguration) (Stats, error) {
	res := o.syncOne(ctx, cal)
	o.recordCalendar(res)
	return res.Stats, res.err
}

type calendarResult struct {
	CalendarStatus
	err error
}

func (o *Orchestrator) syncAll(ctx context.Context, trigger string) error {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, spanSyncAll, trace.WithAttributes(
		attribute.String("sync.run_id", runID),
		attribute.String("sync.trigger", trigger),
	))
	defer span.End()

	started := o.now()
	o.beginRun()
	log := o.log.With("run_id", runID)

	cals, err := o.registry.EnabledCalendars(ctx)
	if err != nil {
		err = fmt.Errorf("reading enabled calendars: %w", err)
		o.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry read failed")
		o.endRun(runID, trigger, started, Stats{}, err)
		return err
	}
	log.Debug("sync run starting", "trigger", trigger, "calendars", len(cals))

	results := make([]calendarResult, len(cals))
	var wg gosync.WaitGroup
	for i, cal := range cals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.syncOne(ctx, cal)
		}()
	}
	wg.Wait()

	var (
		total   Stats
		failed  int
		persist []error
	)
	for _, res := range results {
		o.recordCalendar(res)
		total.Add(res.Stats)
		if res.err != nil {
			failed++
			if errors.Is(res.err, state.ErrPersistence) {
				persist = append(persist, res.err)
			}
		}
	}
	runErr := errors.Join(persist...)

	span.SetAttributes(
		attribute.Int("sync.calendars", len(cals)),
		attribute.Int("sync.failed", failed),
		attribute.Int("sync.inserted", total.Inserted),
		attribute.Int("sync.updated", total.Updated),
		attribute.Int("sync.deleted", total.Deleted),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "persistence failure")
	}

	finished := o.endRun(runID, trigger, started, total, runErr)
	log.Info("sync run complete",
		"trigger", trigger,
		"calendars", len(cals),
		"failed", failed,
		"inserted", total.Inserted,
		"updated", total.Updated,
		"unchanged", total.Unchanged,
		"deleted", total.Deleted,
		"duration", finished.Sub(started),
	)
	o.publish(Notification{
		RunID:      runID,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: finished,
		Calendars:  len(cals),
		Failed:     failed,
		Stats:      total,
		Err:        runErr,
	})
	return runErr
}

func (o *Orchestrator) syncOne(ctx context.Context, cal *model.CalendarConfiguration) calendarResult {
	key := cal.Key()
	res := calendarResult{CalendarStatus: CalendarStatus{Key: key, Name: cal.Name, LastRun: o.now()}}
	log := o.log.With("calendar", key.String(), "name", cal.Name)

	ctx, span := o.tracer.Start(ctx, spanSyncOne, trace.WithAttributes(
		attribute.String("calendar.source", cal.Source),
		attribute.String("calendar.id", cal.CalendarID),
	))
	defer span.End()

	if o.auth != nil && !o.auth.Authenticated(ctx, cal.Source) {
		log.Warn("source not authenticated, skipping calendar")
		res.Outcome = OutcomeNoAuth
		res.LastError = source.ErrAuthRequired.Error()
		return res
	}
	strategy, err := o.strategies.Lookup(cal.Source)
	if err != nil {
		log.Warn("no strategy for source, skipping calendar", "error", err)
		res.Outcome = OutcomeNoStrategy
		res.LastError = err.Error()
		return res
	}

	start, end := cal.SyncWindow(o.now())
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	began := time.Now()
	events, err := strategy.Fetch(fetchCtx, cal.CalendarID, start, end)
	cancel()
	o.histFetch.Record(ctx, time.Since(began).Seconds(), metric.WithAttributes(
		attribute.String("calendar.source", cal.Source),
	))
	stale := err != nil && errors.Is(err, source.ErrStale)
	if stale {
		log.Warn("provider unreachable, reconciling cached copy", "error", err)
		res.LastError = err.Error()
		err = nil
	}
	if err != nil {
		if errors.Is(err, source.ErrAuthRequired) {
			log.Warn("source rejected credentials, skipping calendar", "error", err)
			res.Outcome = OutcomeNoAuth
		} else {
			log.Error("fetch failed, cache left untouched", "error", err)
			res.Outcome = OutcomeFailed
		}
		o.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		res.LastError = err.Error()
		res.err = err
		return res
	}

	stats, err := o.reconciler.Reconcile(ctx, cal, events)
	if err != nil {
		log.Error("reconcile failed", "error", err)
		o.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		res.Outcome = OutcomeFailed
		res.LastError = err.Error()
		res.err = err
		return res
	}
	res.Stats = stats
	o.addCounters(ctx, stats)

	if stale {
		res.Outcome = OutcomeStale
		return res
	}
	if err := o.registry.MarkSynced(ctx, key, o.now()); err != nil {
		log.Error("recording last sync", "error", err)
		o.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		res.Outcome = OutcomeFailed
		res.LastError = err.Error()
		res.err = err
		return res
	}

	span.SetAttributes(
		attribute.Int("sync.fetched", len(events)),
		attribute.Int("sync.inserted", stats.Inserted),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
	)
	res.Outcome = OutcomeSynced
	return res
}

func (o *Orchestrator) addCounters(ctx context.Context, s Stats) {
	if s.Inserted > 0 {
		o.cntInsert.Add(ctx, int64(s.Inserted))
	}
	if s.Updated > 0 {
		o.cntUpdate.Add(ctx, int64(s.Updated))
	}
	if s.Deleted > 0 {
		o.cntDelete.Add(ctx, int64(s.Deleted))
	}
	if s.Skipped > 0 {
		o.cntSkipped.Add(ctx, int64(s.Skipped))
	}
}

// --- Status ---------------------------------------------------------------

func (o *Orchestrator) beginRun() {
	o.statusMu.Lock()
	o.running++
	o.statusMu.Unlock()
}

func (o *Orchestrator) endRun(runID, trigger string, started time.Time, total Stats, err error) time.Time {
	finished := o.now()
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.running--
	o.status.Runs++
	o.status.LastRunID = runID
	o.status.LastTrigger = trigger
	o.status.LastSyncTime = finished
	o.status.LastDuration = finished.Sub(started)
	o.status.Totals.Add(total)
	o.status.LastError = ""
	if err != nil {
		o.status.LastError = err.Error()
	}
	return finished
}

func (o *Orchestrator) recordCalendar(res calendarResult) {
	o.statusMu.Lock()
	o.perCal[res.Key] = res.CalendarStatus
	o.statusMu.Unlock()
}

// Status returns a snapshot of the Orchestrator's run history. Calendars
// are sorted by key.
func (o *Orchestrator) Status() Status {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	s := o.status
	s.Running = o.running > 0
	s.Calendars = make([]CalendarStatus, 0, len(o.perCal))
	for _, c := range o.perCal {
		s.Calendars = append(s.Calendars, c)
	}
	sort.Slice(s.Calendars, func(i, j int) bool {
		return s.Calendars[i].Key.String() < s.Calendars[j].Key.String()
	})
	return s
}

// --- Notifications --------------------------------------------------------

// Subscribe returns a channel that receives a [Notification] after every
// run. Delivery never blocks the sync loop: when the channel's buffer is
// full the notification is dropped for that subscriber. cancel closes the
// channel and may be called more than once.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once gosync.Once
	cancel := func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			close(ch)
			o.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (o *Orchestrator) publish(n Notification) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- n:
		default:
			o.log.Debug("subscriber is slow, dropping notification", "subscriber", id, "run_id", n.RunID)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
