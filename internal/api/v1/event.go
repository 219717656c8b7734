package v1

import (
	"fmt"
	"strings"
	"time"
)

// requireID validates an identifier field. '#' is reserved as the row-key
// separator downstream, so ids containing it are rejected at the edge.
func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.Contains(value, "#") {
		return fmt.Errorf("%s must not contain '#'", field)
	}
	return nil
}

// WatchEvent reports one consumer's viewing of an episode: milliseconds of
// playback and bytes delivered over the network. Events are additive; the
// same consumer may report the same episode many times per day.
type WatchEvent struct {
	// AccountID identifies the consuming account. Required.
	AccountID string `json:"account_id"`

	// SeasonID and EpisodeID locate the content watched. Required.
	SeasonID  string `json:"season_id"`
	EpisodeID string `json:"episode_id"`

	// DurationMS is playback time in milliseconds. Must be positive.
	DurationMS int64 `json:"duration_ms"`

	// NetworkBytes is the delivery volume for this view. Optional.
	NetworkBytes int64 `json:"network_bytes"`

	// OccurredAt is the client-side event time; it selects the metered day.
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *WatchEvent) Validate() error {
	if err := requireID("account_id", e.AccountID); err != nil {
		return err
	}
	if err := requireID("season_id", e.SeasonID); err != nil {
		return err
	}
	if err := requireID("episode_id", e.EpisodeID); err != nil {
		return err
	}
	if e.DurationMS <= 0 {
		return fmt.Errorf("duration_ms must be positive")
	}
	if e.NetworkBytes < 0 {
		return fmt.Errorf("network_bytes must not be negative")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// UploadEvent reports a publisher ingesting new media.
type UploadEvent struct {
	// PublisherID identifies the uploading publisher. Required.
	PublisherID string `json:"publisher_id"`

	// ItemID identifies the uploaded media item. Required.
	ItemID string `json:"item_id"`

	// SizeBytes is the upload volume. Must be positive.
	SizeBytes int64 `json:"size_bytes"`

	// OccurredAt is the client-side event time; it selects the metered day.
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *UploadEvent) Validate() error {
	if err := requireID("publisher_id", e.PublisherID); err != nil {
		return err
	}
	if err := requireID("item_id", e.ItemID); err != nil {
		return err
	}
	if e.SizeBytes <= 0 {
		return fmt.Errorf("size_bytes must be positive")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// StorageEvent reports a publisher's media item being held in storage:
// bytes retained for a span of milliseconds within the metered day.
type StorageEvent struct {
	// PublisherID identifies the owning publisher. Required.
	PublisherID string `json:"publisher_id"`

	// ItemID identifies the stored media item. Required.
	ItemID string `json:"item_id"`

	// SizeBytes is the retained volume. Must be positive.
	SizeBytes int64 `json:"size_bytes"`

	// DurationMS is the retention span in milliseconds. Must be positive.
	DurationMS int64 `json:"duration_ms"`

	// OccurredAt is the client-side event time; it selects the metered day.
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *StorageEvent) Validate() error {
	if err := requireID("publisher_id", e.PublisherID); err != nil {
		return err
	}
	if err := requireID("item_id", e.ItemID); err != nil {
		return err
	}
	if e.SizeBytes <= 0 {
		return fmt.Errorf("size_bytes must be positive")
	}
	if e.DurationMS <= 0 {
		return fmt.Errorf("duration_ms must be positive")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}
