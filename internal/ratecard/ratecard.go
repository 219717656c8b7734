// Package ratecard loads per-metric unit prices from YAML files at startup.
// Cards are fingerprinted so statements can record exactly which pricing was
// in force when they were produced.
package ratecard

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Actor types a card applies to.
const (
	ActorConsumer  = "consumer"
	ActorPublisher = "publisher"
)

// Metric names priced by cards and reported on statements.
const (
	MetricWatchSeconds         = "watch_seconds"
	MetricWeightedWatchSeconds = "weighted_watch_seconds"
	MetricNetworkMB            = "network_mb"
	MetricStoredMB             = "stored_mb"
	MetricStorageSeconds       = "storage_seconds"
	MetricUploadedMB           = "uploaded_mb"
	MetricUploadCount          = "upload_count"
)

// Card prices one metric for one actor type.
type Card struct {
	Actor       string
	Metric      string
	UnitPrice   decimal.Decimal
	Currency    string
	Fingerprint string // SHA-256 of the raw YAML file
}

// rawCard is the on-disk YAML shape.
type rawCard struct {
	Actor     string `yaml:"actor"`
	Metric    string `yaml:"metric"`
	UnitPrice string `yaml:"unit_price"`
	Currency  string `yaml:"currency"`
}

// Repository holds all loaded cards, keyed by actor and metric. Cards are
// loaded once at startup and cached in memory.
type Repository struct {
	dir   string
	cards map[string]Card // keyed actor + "/" + metric
}

// NewRepository eagerly loads every *.yaml card in dir. A missing directory
// is valid and yields zero cards.
func NewRepository(dir string) (*Repository, error) {
	repo := &Repository{dir: dir, cards: make(map[string]Card)}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rate card dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rate card path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading rate card dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rate card %s: %w", path, err)
		}

		var raw rawCard
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rate card %s: %w", path, err)
		}
		if raw.Metric == "" {
			continue // skip empty / comment-only files
		}

		if raw.Actor != ActorConsumer && raw.Actor != ActorPublisher {
			return fmt.Errorf("rate card %s: unsupported actor %q", path, raw.Actor)
		}
		if raw.Currency == "" {
			return fmt.Errorf("rate card %s: currency must not be empty", path)
		}

		price, err := decimal.NewFromString(raw.UnitPrice)
		if err != nil {
			return fmt.Errorf("rate card %s: invalid unit_price %q: %w", path, raw.UnitPrice, err)
		}
		if price.IsNegative() {
			return fmt.Errorf("rate card %s: unit_price must not be negative", path)
		}

		key := raw.Actor + "/" + raw.Metric
		if _, exists := r.cards[key]; exists {
			return fmt.Errorf("rate card %s: duplicate card for %s (check multiple YAML files)", path, key)
		}

		r.cards[key] = Card{
			Actor:       raw.Actor,
			Metric:      raw.Metric,
			UnitPrice:   price,
			Currency:    raw.Currency,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Get returns the card pricing one metric for one actor, if present.
func (r *Repository) Get(actor, metric string) (Card, bool) {
	card, ok := r.cards[actor+"/"+metric]
	return card, ok
}

// Len returns the number of loaded cards.
func (r *Repository) Len() int { return len(r.cards) }
