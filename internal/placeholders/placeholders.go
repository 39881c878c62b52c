// Package placeholders expands {{key}} and {{key|default}} tokens in request
// templates.
package placeholders

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var placeholderRegex = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// Source resolves a placeholder key to a value.
type Source interface {
	Lookup(key string) (string, bool)
}

// Values is a Source backed by a map, typically a feeder record.
type Values map[string]string

func (v Values) Lookup(key string) (string, bool) {
	if v == nil {
		return "", false
	}
	val, ok := v[key]
	return val, ok
}

// Builtins resolves generated values:
//
//	{{uuid}}        random UUIDv4
//	{{request_id}}  ULID, sortable by issue time
//	{{stage}}       index of the stage issuing the request
//	{{timestamp}}   unix milliseconds
type Builtins struct {
	Stage int
}

func (b Builtins) Lookup(key string) (string, bool) {
	switch key {
	case "uuid":
		return uuid.NewString(), true
	case "request_id":
		return ulid.Make().String(), true
	case "stage":
		return strconv.Itoa(b.Stage), true
	case "timestamp":
		return strconv.FormatInt(time.Now().UnixMilli(), 10), true
	}
	return "", false
}

// Apply replaces every placeholder in template. Sources are consulted in
// order; when none resolves a key the default after '|' is used, and a
// placeholder without a default is left untouched.
func Apply(template string, sources ...Source) string {
	if len(template) < 4 {
		return template
	}
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderRegex.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		key := parts[1]
		for _, src := range sources {
			if src == nil {
				continue
			}
			if val, ok := src.Lookup(key); ok {
				return val
			}
		}
		if len(parts) > 2 && len(match) > len(key)+4 {
			return parts[2]
		}
		return match
	})
}

type stageKey struct{}

// WithStage records the index of the stage issuing requests under ctx.
func WithStage(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, stageKey{}, index)
}

// StageFrom returns the stage index stored by WithStage, or 0.
func StageFrom(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	if idx, ok := ctx.Value(stageKey{}).(int); ok {
		return idx
	}
	return 0
}
