// Package worker exposes the aggregation engine over HTTP. An external
// scheduler (cron, queue consumer, operator) drives each stage by alternating
// discover and process calls; the engine's idempotency makes blind retries of
// either call safe.
package worker

import (
	"github.com/gin-gonic/gin"

	"github.com/mediameter-lab/mediameter/internal/aggregation"
)

const defaultDiscoverLimit = 100

type Service struct {
	engine        *aggregation.Engine
	discoverLimit int
}

func NewService(engine *aggregation.Engine, discoverLimit int) *Service {
	if engine == nil {
		panic("worker: engine must not be nil")
	}
	if discoverLimit <= 0 {
		discoverLimit = defaultDiscoverLimit
	}
	return &Service{engine: engine, discoverLimit: discoverLimit}
}

// RegisterRoutes registers the worker endpoints.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/worker/stages", s.StagesHandler)
	r.POST("/v1/worker/:stage/discover", s.DiscoverHandler)
	r.POST("/v1/worker/:stage/process", s.ProcessHandler)
}
