package auditapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lakegov"

// Collector reports ledger and lineage totals, read at scrape time.
type Collector struct {
	ledger  *audit.Ledger
	lineage *lineage.Log
	logger  *slog.Logger

	runs         *prometheus.Desc
	gdpr         *prometheus.Desc
	exports      *prometheus.Desc
	exportedRows *prometheus.Desc
	edges        *prometheus.Desc
	scrapeErrors *prometheus.Desc
}

// NewCollector creates a collector over ledger and log.
func NewCollector(ledger *audit.Ledger, log *lineage.Log, logger *slog.Logger) *Collector {
	return &Collector{
		ledger:  ledger,
		lineage: log,
		logger:  logger,
		runs: prometheus.NewDesc(namespace+"_runs",
			"Pipeline runs recorded in the audit ledger.", []string{"pipeline", "status"}, nil),
		gdpr: prometheus.NewDesc(namespace+"_gdpr_requests",
			"Erasure requests by status.", []string{"status"}, nil),
		exports: prometheus.NewDesc(namespace+"_exports",
			"Activation exports recorded.", nil, nil),
		exportedRows: prometheus.NewDesc(namespace+"_exported_rows",
			"Rows released by activation exports.", nil, nil),
		edges: prometheus.NewDesc(namespace+"_lineage_edges",
			"Edges in the lineage log.", nil, nil),
		scrapeErrors: prometheus.NewDesc(namespace+"_scrape_errors",
			"Sources that failed during this scrape.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runs
	ch <- c.gdpr
	ch <- c.exports
	ch <- c.exportedRows
	ch <- c.edges
	ch <- c.scrapeErrors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	failures := 0
	fail := func(source string, err error) {
		failures++
		c.logger.Warn("metrics scrape failed", "source", source, "error", err)
	}

	if counts, err := c.ledger.CountRunsByStatus(ctx); err != nil {
		fail("runs", err)
	} else {
		for _, rc := range counts {
			ch <- prometheus.MustNewConstMetric(c.runs, prometheus.GaugeValue, float64(rc.Count), rc.Pipeline, string(rc.Status))
		}
	}

	if counts, err := c.ledger.CountGDPRRequestsByStatus(ctx); err != nil {
		fail("gdpr", err)
	} else {
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(c.gdpr, prometheus.GaugeValue, float64(n), status)
		}
	}

	if exports, rows, err := c.ledger.ExportTotals(ctx); err != nil {
		fail("exports", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.exports, prometheus.GaugeValue, float64(exports))
		ch <- prometheus.MustNewConstMetric(c.exportedRows, prometheus.GaugeValue, float64(rows))
	}

	if edges, err := c.lineage.Edges(ctx); err != nil {
		fail("lineage", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.edges, prometheus.GaugeValue, float64(len(edges)))
	}

	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, float64(failures))
}
