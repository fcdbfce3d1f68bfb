package health

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/collateral-relayer/internal/ingestor"
)

type IHealthHandler interface {
	Basic(c *gin.Context)
	Database(c *gin.Context)
	External(c *gin.Context)
	Jobs(c *gin.Context)
}

// IngestorStatus is the part of the ingestor the health endpoints read.
type IngestorStatus interface {
	Stats() ingestor.Stats
	CheckCursorHealth(ctx context.Context, now time.Time) (*ingestor.CursorHealth, error)
}

type TipHeightSource interface {
	GetTipHeight(ctx context.Context) (int64, error)
}

type CheckpointSource interface {
	LatestCheckpoint(ctx context.Context) (int64, error)
}
