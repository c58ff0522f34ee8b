package observability

// Namespace prefixes every metric the engine registers.
const Namespace = "arb"

const (
	MetricIngestorSlotLag        = "ingestor_slot_lag"
	MetricIngestorAccountUpdates = "ingestor_account_updates_total"
	MetricIngestorDecodeErrors   = "ingestor_decode_errors_total"
	MetricIngestorStaleUpdates   = "ingestor_stale_updates_total"
	MetricIngestorActiveSource   = "ingestor_active_source"
	MetricIngestorSourceFailures = "ingestor_source_failures_total"
	MetricIngestorUpdateBytes    = "ingestor_update_bytes_total"

	MetricPollerFetchTotal  = "poller_fetch_total"
	MetricPollerFetchErrors = "poller_fetch_errors_total"

	MetricScannerRoutesTotal        = "scanner_routes_total"
	MetricScannerOpportunitiesTotal = "scanner_opportunities_total"
	MetricScannerRejectedTotal      = "scanner_rejected_total"
	MetricScannerScanSeconds        = "scanner_scan_seconds"
	MetricEngineGuardBlockedTotal   = "engine_guard_blocked_total"
	MetricEnginePublishErrors       = "engine_publish_errors_total"

	MetricExecutionsTotal         = "executor_executions_total"
	MetricExecutionLegAttempts    = "executor_leg_attempts_total"
	MetricExecutionLegSeconds     = "executor_leg_seconds"
	MetricExecutionRealizedProfit = "executor_realized_profit_lamports"

	MetricPublisherNATSacksTotal = "publisher_nats_acks_total"
	MetricPublisherNATSErrors    = "publisher_nats_errors_total"

	MetricAPIRequestsTotal = "api_requests_total"
)
