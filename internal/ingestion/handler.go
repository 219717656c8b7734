package ingestion

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mediameter-lab/mediameter/internal/aggregation"
	v1 "github.com/mediameter-lab/mediameter/internal/api/v1"
	httperr "github.com/mediameter-lab/mediameter/internal/core/errors"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist event"
)

// ingestionError carries the structured HTTP error shape from a helper back to
// the handler. Helpers return this instead of writing to gin.Context directly,
// keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// validator is the shared envelope contract of all metering event types.
type validator interface {
	Validate() error
}

// WatchHandler accepts consumer playback events. Cells are incremented, never
// replaced, so repeated partial views of the same episode add up.
func (s *Service) WatchHandler(c *gin.Context) {
	var evt v1.WatchEvent
	if ierr := s.parseEvent(c, &evt); ierr != nil {
		writeError(c, ierr)
		return
	}

	day := keyspace.DayOf(evt.OccurredAt)
	key := keyspace.WorkKey(keyspace.KindWatchRaw, day, evt.AccountID)
	subject := evt.SeasonID + keyspace.Separator + evt.EpisodeID + keyspace.Separator

	ctx := c.Request.Context()
	if ierr := s.meter(ctx, key, subject+aggregation.SuffixMillis, evt.DurationMS); ierr != nil {
		writeError(c, ierr)
		return
	}
	if evt.NetworkBytes > 0 {
		if ierr := s.meter(ctx, key, subject+aggregation.SuffixBytes, evt.NetworkBytes); ierr != nil {
			writeError(c, ierr)
			return
		}
	}
	if ierr := s.enqueue(ctx, keyspace.KindConsumerWatchDaily, day, evt.AccountID); ierr != nil {
		writeError(c, ierr)
		return
	}

	slog.Info("[Ingestion] Watch event metered",
		"account_id", evt.AccountID,
		"season_id", evt.SeasonID,
		"episode_id", evt.EpisodeID,
		"day", day,
		"duration_ms", evt.DurationMS)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// UploadHandler accepts publisher upload events.
func (s *Service) UploadHandler(c *gin.Context) {
	var evt v1.UploadEvent
	if ierr := s.parseEvent(c, &evt); ierr != nil {
		writeError(c, ierr)
		return
	}

	day := keyspace.DayOf(evt.OccurredAt)
	key := keyspace.WorkKey(keyspace.KindUploadRaw, day, evt.PublisherID)
	subject := evt.ItemID + keyspace.Separator

	ctx := c.Request.Context()
	if ierr := s.meter(ctx, key, subject+aggregation.SuffixBytes, evt.SizeBytes); ierr != nil {
		writeError(c, ierr)
		return
	}
	if ierr := s.meter(ctx, key, subject+aggregation.SuffixCount, 1); ierr != nil {
		writeError(c, ierr)
		return
	}
	if ierr := s.enqueue(ctx, keyspace.KindPublisherUploadDay, day, evt.PublisherID); ierr != nil {
		writeError(c, ierr)
		return
	}

	slog.Info("[Ingestion] Upload event metered",
		"publisher_id", evt.PublisherID,
		"item_id", evt.ItemID,
		"day", day,
		"size_bytes", evt.SizeBytes)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// StorageHandler accepts publisher storage-retention events.
func (s *Service) StorageHandler(c *gin.Context) {
	var evt v1.StorageEvent
	if ierr := s.parseEvent(c, &evt); ierr != nil {
		writeError(c, ierr)
		return
	}

	day := keyspace.DayOf(evt.OccurredAt)
	key := keyspace.WorkKey(keyspace.KindStorageRaw, day, evt.PublisherID)
	subject := evt.ItemID + keyspace.Separator

	ctx := c.Request.Context()
	if ierr := s.meter(ctx, key, subject+aggregation.SuffixBytes, evt.SizeBytes); ierr != nil {
		writeError(c, ierr)
		return
	}
	if ierr := s.meter(ctx, key, subject+aggregation.SuffixMillis, evt.DurationMS); ierr != nil {
		writeError(c, ierr)
		return
	}
	if ierr := s.enqueue(ctx, keyspace.KindPublisherStorageDay, day, evt.PublisherID); ierr != nil {
		writeError(c, ierr)
		return
	}

	slog.Info("[Ingestion] Storage event metered",
		"publisher_id", evt.PublisherID,
		"item_id", evt.ItemID,
		"day", day,
		"size_bytes", evt.SizeBytes,
		"duration_ms", evt.DurationMS)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// parseEvent reads the bounded request body, binds it into evt and runs
// envelope validation.
func (s *Service) parseEvent(c *gin.Context, evt validator) *ingestionError {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	if err := json.Unmarshal(bodyBytes, evt); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if err := evt.Validate(); err != nil {
		slog.Warn("[Ingestion] Envelope validation failed", "error", err)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
	}
	return nil
}

// meter adds one metered quantity onto its raw counter cell.
func (s *Service) meter(ctx context.Context, key, column string, delta int64) *ingestionError {
	if _, err := s.store.Increment(ctx, key, aggregation.RawFamily, column, delta); err != nil {
		slog.Error("[Ingestion] Failed to increment counter", "error", err, "key", key, "column", column)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}
	return nil
}

// enqueue blind-writes the day's work item. Re-writing an existing pending
// item is harmless, so this needs no read-before-write.
func (s *Service) enqueue(ctx context.Context, kind keyspace.Kind, day keyspace.Period, owner string) *ingestionError {
	if err := s.store.Apply(ctx, aggregation.PendingWorkItem(kind, day, owner)); err != nil {
		slog.Error("[Ingestion] Failed to enqueue work item", "error", err, "kind", kind, "owner", owner)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}
	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
