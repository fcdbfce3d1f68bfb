package health

import (
	"time"

	"github.com/dwarvesf/collateral-relayer/internal/ingestor"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
)

type BasicHealthResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Checks     map[string]HealthCheck `json:"checks"`
	DurationMs int64                  `json:"duration_ms"`
}

type HealthCheck struct {
	Status   string                 `json:"status"`
	Latency  int64                  `json:"latency_ms,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type JobsHealthResponse struct {
	Status     string                          `json:"status"`
	Timestamp  time.Time                       `json:"timestamp"`
	Jobs       map[string]monitoring.JobStatus `json:"jobs"`
	Summary    monitoring.JobsSummary          `json:"summary"`
	Ingestor   *IngestorHealth                 `json:"ingestor,omitempty"`
	DurationMs int64                           `json:"duration_ms"`
}

type IngestorHealth struct {
	Stats  ingestor.Stats         `json:"stats"`
	Cursor *ingestor.CursorHealth `json:"cursor,omitempty"`
	Error  string                 `json:"error,omitempty"`
}
