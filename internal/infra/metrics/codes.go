package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(codesIssuedTotal, consumeTotal, batchProcessedTotal, importRowsTotal, generationCollisions)
}

var codesIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "codes_issued_total",
		Help: "Codes created, by kind and source (random|sequential|import).",
	},
	[]string{"kind", "source"},
)

var consumeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "code_consume_total",
		Help: "Redeem/verify attempts by operation and outcome.",
	},
	[]string{"op", "outcome"}, // op="redeem"|"verify", outcome="ok"|"already_used"|"not_found"|"invalid_format"|"error"
)

var batchProcessedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "codes_batch_processed_total",
		Help: "PIN codes confirmed through bulk processing.",
	},
)

var importRowsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "code_import_rows_total",
		Help: "Bulk import rows by result (imported|rejected).",
	},
	[]string{"result"},
)

var generationCollisions = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "code_generation_duplicates_total",
		Help: "Insert-time duplicates hit by the generator (lost races).",
	},
)

func IncIssued(kind, source string, n int) {
	codesIssuedTotal.WithLabelValues(norm(kind), norm(source)).Add(float64(n))
}

func IncConsume(op, outcome string) {
	consumeTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
}

func AddBatchProcessed(n int) { batchProcessedTotal.Add(float64(n)) }

func AddImportRows(result string, n int) {
	importRowsTotal.WithLabelValues(norm(result)).Add(float64(n))
}

func IncGenerationDuplicate() { generationCollisions.Inc() }

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
