package diagnostics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/njoerd114/familywall/internal/sync"
)

// cacheWindow bounds the per-calendar cached event gauge.
const cacheWindow = 90 * 24 * time.Hour

// syncCollector exports the orchestrator's status snapshot on every scrape.
type syncCollector struct {
	syncer Syncer
	events Events
	log    *slog.Logger

	runs        *prometheus.Desc
	running     *prometheus.Desc
	lastSync    *prometheus.Desc
	lastDur     *prometheus.Desc
	lastFailed  *prometheus.Desc
	changes     *prometheus.Desc
	calLastRun  *prometheus.Desc
	calHealthy  *prometheus.Desc
	cachedCount *prometheus.Desc
}

func newSyncCollector(syncer Syncer, events Events, logger *slog.Logger) *syncCollector {
	return &syncCollector{
		syncer: syncer,
		events: events,
		log:    logger,

		runs: prometheus.NewDesc("familywall_sync_runs_total",
			"Completed sync runs since start.", nil, nil),
		running: prometheus.NewDesc("familywall_sync_running",
			"1 while a sync run is in progress.", nil, nil),
		lastSync: prometheus.NewDesc("familywall_sync_last_run_timestamp_seconds",
			"Unix time the last sync run finished.", nil, nil),
		lastDur: prometheus.NewDesc("familywall_sync_last_duration_seconds",
			"Duration of the last sync run.", nil, nil),
		lastFailed: prometheus.NewDesc("familywall_sync_last_run_failed",
			"1 if the last sync run returned an error.", nil, nil),
		changes: prometheus.NewDesc("familywall_sync_events_total",
			"Cache changes applied since start, by kind.", []string{"change"}, nil),
		calLastRun: prometheus.NewDesc("familywall_calendar_last_run_timestamp_seconds",
			"Unix time of the last sync attempt per calendar.", []string{"source", "calendar"}, nil),
		calHealthy: prometheus.NewDesc("familywall_calendar_synced",
			"1 if the calendar's last attempt synced, 0 if it failed or was skipped.", []string{"source", "calendar", "outcome"}, nil),
		cachedCount: prometheus.NewDesc("familywall_cache_events",
			"Cached events of enabled calendars starting within the next 90 days.", []string{"calendar"}, nil),
	}
}

func (c *syncCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.runs, c.running, c.lastSync, c.lastDur, c.lastFailed,
		c.changes, c.calLastRun, c.calHealthy, c.cachedCount,
	} {
		ch <- d
	}
}

func (c *syncCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.syncer.Status()

	ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(st.Runs))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolFloat(st.Running))
	if !st.LastSyncTime.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSync, prometheus.GaugeValue, float64(st.LastSyncTime.Unix()))
		ch <- prometheus.MustNewConstMetric(c.lastDur, prometheus.GaugeValue, st.LastDuration.Seconds())
	}
	ch <- prometheus.MustNewConstMetric(c.lastFailed, prometheus.GaugeValue, boolFloat(st.LastError != ""))

	for kind, n := range map[string]int{
		"inserted":  st.Totals.Inserted,
		"updated":   st.Totals.Updated,
		"unchanged": st.Totals.Unchanged,
		"deleted":   st.Totals.Deleted,
		"skipped":   st.Totals.Skipped,
	} {
		ch <- prometheus.MustNewConstMetric(c.changes, prometheus.CounterValue, float64(n), kind)
	}

	for _, cal := range st.Calendars {
		if !cal.LastRun.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.calLastRun, prometheus.GaugeValue,
				float64(cal.LastRun.Unix()), cal.Key.Source, cal.Key.CalendarID)
		}
		ch <- prometheus.MustNewConstMetric(c.calHealthy, prometheus.GaugeValue,
			boolFloat(cal.Outcome == sync.OutcomeSynced), cal.Key.Source, cal.Key.CalendarID, cal.Outcome)
	}

	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	counts, err := c.events.CountByCalendar(ctx, now, now.Add(cacheWindow))
	if err != nil {
		c.log.Warn("counting cached events for metrics", "error", err)
		return
	}
	for name, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.cachedCount, prometheus.GaugeValue, float64(n), name)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
