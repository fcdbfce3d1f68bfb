package health

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/monitoring"
)

var criticalJobs = []string{
	consts.JobNamePayout,
	consts.JobNameCursorHealth,
}

// Jobs reports background job status, ingestor counters and cursor staleness.
// @Summary Background jobs health check
// @Tags health
// @Produce json
// @Success 200 {object} JobsHealthResponse
// @Success 206 {object} JobsHealthResponse
// @Failure 503 {object} JobsHealthResponse
// @Router /api/v1/health/jobs [get]
func (h *HealthHandler) Jobs(c *gin.Context) {
	start := time.Now()
	response := JobsHealthResponse{
		Status:    statusHealthy,
		Timestamp: start,
		Jobs:      make(map[string]monitoring.JobStatus),
	}

	if h.jobStatusManager == nil {
		response.Status = statusUnhealthy
		response.DurationMs = time.Since(start).Milliseconds()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Jobs = h.jobStatusManager.GetAllJobStatuses()
	response.Summary = h.jobStatusManager.GetJobsSummary()

	if response.Summary.StalledJobs > 0 {
		response.Status = statusUnhealthy
	} else if response.Summary.UnhealthyJobs > 0 {
		response.Status = statusDegraded
		for _, name := range criticalJobs {
			if job, ok := response.Jobs[name]; ok &&
				job.Status == monitoring.JobStatusFailed && job.ConsecutiveFailures > 2 {
				response.Status = statusUnhealthy
				break
			}
		}
	}

	if h.ingestor != nil {
		ing := &IngestorHealth{Stats: h.ingestor.Stats()}
		cursor, err := h.ingestor.CheckCursorHealth(requestContext(c), time.Now())
		if err != nil {
			ing.Error = err.Error()
			response.Status = statusUnhealthy
		} else {
			ing.Cursor = cursor
			if cursor.Stale && response.Status == statusHealthy {
				response.Status = statusDegraded
			}
		}
		response.Ingestor = ing
	}

	response.DurationMs = time.Since(start).Milliseconds()

	statusCode := http.StatusOK
	switch response.Status {
	case statusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	case statusDegraded:
		statusCode = http.StatusPartialContent
	}

	h.logger.Debug("[Jobs] health check completed", map[string]string{
		"status":        response.Status,
		"durationMs":    strconv.FormatInt(response.DurationMs, 10),
		"totalJobs":     strconv.Itoa(response.Summary.TotalJobs),
		"unhealthyJobs": strconv.Itoa(response.Summary.UnhealthyJobs),
		"stalledJobs":   strconv.Itoa(response.Summary.StalledJobs),
	})

	c.JSON(statusCode, response)
}
