package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zapask_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ask pipeline metrics
	AskRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_ask_requests_total",
			Help: "Total number of ask requests by outcome",
		},
		[]string{"outcome"},
	)

	AskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zapask_ask_duration_seconds",
			Help:    "Duration of ask requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_response_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapask_quota_rejections_total",
			Help: "Ask requests rejected by the daily quota",
		},
	)

	// Sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_sync_runs_total",
			Help: "Channel sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zapask_sync_duration_seconds",
			Help:    "Duration of channel syncs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MessagesIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_messages_indexed_total",
			Help: "Messages written to the index",
		},
		[]string{"status"},
	)

	ThreadsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapask_threads_pruned_total",
			Help: "Inactive threads removed from sync tracking",
		},
	)

	FilesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_files_ingested_total",
			Help: "Files processed by the ingestion pipeline",
		},
		[]string{"filetype", "status"},
	)

	FileQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zapask_file_queue_depth",
			Help: "Files waiting for an ingestion slot",
		},
	)

	// Planning and retrieval metrics
	PlannerOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_planner_outcomes_total",
			Help: "Query plans by source",
		},
		[]string{"outcome"},
	)

	RetrievalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_retrieval_calls_total",
			Help: "Retrieval function executions",
		},
		[]string{"function", "status"},
	)

	RetrievalFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_retrieval_fallbacks_total",
			Help: "Fallback executions by primary function",
		},
		[]string{"primary"},
	)

	// OpenAI metrics
	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"kind", "status"},
	)

	OpenAIAPICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zapask_openai_api_call_duration_seconds",
			Help:    "Duration of OpenAI API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Embedding backfill
	MessagesWithoutEmbeddings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zapask_messages_without_embeddings",
			Help: "Messages waiting for an embedding in the last backfill batch",
		},
	)

	EmbeddingBackfills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapask_embedding_backfills_total",
			Help: "Messages handled by the embedding backfill job",
		},
		[]string{"status"},
	)
)

// Status maps an error to the status label used across counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
