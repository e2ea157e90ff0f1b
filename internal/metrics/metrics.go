package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courseassist_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"route", "status"})

var documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courseassist_documents_ingested_total",
	Help: "Ingestions finished, labelled by final state",
}, []string{"state"})

var chunksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courseassist_chunks_skipped_total",
	Help: "Chunks left unembedded after retries, labelled by error class",
}, []string{"reason"})

var embedAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "courseassist_embed_attempts_total",
	Help: "Embedding provider calls made during ingestion",
}, []string{"result"})

var retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "courseassist_retrieval_duration_seconds",
	Help:    "Time spent embedding a question and querying the index.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
}, []string{"status"})

var retrievedChunks = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "courseassist_retrieved_chunks",
	Help:    "Chunks placed into an assembled context.",
	Buckets: prometheus.LinearBuckets(0, 2, 10),
})

func ObserveIngestion(state string) {
	documentsIngested.WithLabelValues(state).Inc()
}

func ObserveSkippedChunk(reason string) {
	chunksSkipped.WithLabelValues(reason).Inc()
}

func ObserveEmbedAttempt(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	embedAttempts.WithLabelValues(result).Inc()
}

func ObserveRetrieval(status string, elapsed time.Duration, used int) {
	retrievalDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if status == "ok" {
		retrievedChunks.Observe(float64(used))
	}
}

func ObserveRequest(route string, status int) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
