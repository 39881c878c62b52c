package feeder

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/torosent/breakpoint/internal/config"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// Feeder provides per-request data from a dataset with deterministic
// round-robin selection. Implementations must be safe for concurrent use.
type Feeder interface {
	// Next returns the next record, wrapping to the first one after the last.
	Next(ctx context.Context) (Record, error)

	// Close releases any resources held by the feeder.
	Close() error

	// Len returns the total number of records in the dataset.
	Len() int
}

// New builds the feeder described by cfg, or returns nil when no path is set.
func New(cfg config.FeederConfig) (Feeder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "csv":
		f, err := NewCSVFeeder(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "json":
		f, err := NewJSONFeeder(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported feeder type %q", cfg.Type)
	}
}

// cycle hands out records in order and wraps around. A load run issues far
// more requests than a dataset usually holds, so exhaustion is not an error.
type cycle struct {
	records []Record
	next    atomic.Uint64
}

func (c *cycle) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.records) == 0 {
		return nil, fmt.Errorf("feeder has no records")
	}
	idx := (c.next.Add(1) - 1) % uint64(len(c.records))
	src := c.records[idx]
	out := make(Record, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (c *cycle) Close() error {
	return nil
}

func (c *cycle) Len() int {
	return len(c.records)
}
