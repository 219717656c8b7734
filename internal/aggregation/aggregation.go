// Package aggregation implements the checkpointed range-aggregation engine:
// discovery of pending work items over the sorted key space, crash-safe
// page-at-a-time reduction of child rows into counters, and idempotent
// publication of final rollup rows.
//
// The engine owns no scheduler. An external caller drives each stage through
// Discover and Process; both are safe to retry and to run from any number of
// worker processes.
package aggregation

import (
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
	"github.com/mediameter-lab/mediameter/internal/kv"
)

// Work-item rows carry a pending flag cell (existence is the signal) and,
// once processing has started, a checkpoint cell.
const (
	metaFamily       = "meta"
	pendingColumn    = "pending"
	checkpointColumn = "checkpoint"
)

// Raw input rows hold one counter cell per metered quantity. Columns are
// '#'-joined: "<season>#<episode>#<suffix>" for watch rows, "<item>#<suffix>"
// for storage and upload rows. Ingestion increments these cells; the daily
// stages fold and then delete them.
const (
	RawFamily    = "raw"
	SuffixMillis = "ms"
	SuffixBytes  = "bytes"
	SuffixCount  = "count"
)

// Cell families and columns of published rows. Daily consumer finals keep one
// column per season; everything else rolls totals into the "t" family.
const (
	famWatchSec    = "w" // per-season watch seconds
	famWeightedSec = "a" // per-season grade-weighted watch seconds
	famBytes       = "b" // per-season network bytes
	famTotals      = "t"
	colWatchSec    = "watch_sec"
	colWeightedSec = "ws"
	colBytes       = "bytes"
	colNetworkMB   = "network_mb"
	colStoredMB    = "stored_mb"
	colStorageSec  = "storage_sec"
	colUploadedMB  = "uploaded_mb"
	colUploadCount = "upload_count"
)

const bytesPerMB = int64(1) << 20

// Stage names, used by the worker API to route discover/process calls.
const (
	StageConsumerWatchDaily    = "consumer-watch-daily"
	StagePublisherWatchDaily   = "publisher-watch-daily"
	StagePublisherStorageDaily = "publisher-storage-daily"
	StagePublisherUploadDaily  = "publisher-upload-daily"
	StageConsumerMonthly       = "consumer-monthly"
	StagePublisherMonthly      = "publisher-monthly"
)

// PendingWorkItem builds the blind write that enqueues a work item. Writing
// it again for an already-pending item is a no-op, which is what makes
// "enqueue on first output of the period" safe to repeat.
func PendingWorkItem(kind keyspace.Kind, period keyspace.Period, ownerID string) kv.Mutation {
	return kv.Set(keyspace.WorkKey(kind, period, ownerID), metaFamily, pendingColumn, []byte("1"))
}
