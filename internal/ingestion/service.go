package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/mediameter-lab/mediameter/internal/kv"
)

type Service struct {
	store            kv.Store
	maxBodySizeBytes int
}

func NewService(store kv.Store, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the metering endpoints.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/meter/watch", s.WatchHandler)
	r.POST("/v1/meter/uploads", s.UploadHandler)
	r.POST("/v1/meter/storage", s.StorageHandler)
}
