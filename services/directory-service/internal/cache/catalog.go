// Package cache keeps catalog reads in redis.
//
// Entries are keyed under a generation counter. Roster and schedule writes bump the counter,
// which orphans every earlier entry until its TTL reaps it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// Source is the uncached catalog.
type Source interface {
	ListHospitals(ctx context.Context) ([]model.Hospital, error)
	Hospital(ctx context.Context, id int64) (model.Hospital, error)
	ListDoctors(ctx context.Context, f model.DoctorFilter) ([]model.Doctor, error)
	Doctor(ctx context.Context, id int64) (model.Doctor, error)
	Specialties(ctx context.Context) ([]model.Specialty, error)
	Search(ctx context.Context, query string) (model.SearchResult, error)
	Suggestions(ctx context.Context, specialty string) ([]model.Suggestion, error)
}

// Catalog caches the listing and detail reads of Source. Search and Suggestions pass through.
type Catalog struct {
	Source
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCatalog(src Source, rdb *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "directory:catalog"
	}
	return &Catalog{Source: src, rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *Catalog) ListHospitals(ctx context.Context) ([]model.Hospital, error) {
	return load(ctx, c, "hospitals", c.Source.ListHospitals)
}

func (c *Catalog) Hospital(ctx context.Context, id int64) (model.Hospital, error) {
	return load(ctx, c, "hospital:"+strconv.FormatInt(id, 10), func(ctx context.Context) (model.Hospital, error) {
		return c.Source.Hospital(ctx, id)
	})
}

func (c *Catalog) ListDoctors(ctx context.Context, f model.DoctorFilter) ([]model.Doctor, error) {
	key := fmt.Sprintf("doctors:%d:%d:%s", f.HospitalID, f.NotAtHospitalID, strings.ToLower(strings.TrimSpace(f.Specialty)))
	return load(ctx, c, key, func(ctx context.Context) ([]model.Doctor, error) {
		return c.Source.ListDoctors(ctx, f)
	})
}

func (c *Catalog) Doctor(ctx context.Context, id int64) (model.Doctor, error) {
	return load(ctx, c, "doctor:"+strconv.FormatInt(id, 10), func(ctx context.Context) (model.Doctor, error) {
		return c.Source.Doctor(ctx, id)
	})
}

func (c *Catalog) Specialties(ctx context.Context) ([]model.Specialty, error) {
	return load(ctx, c, "specialties", c.Source.Specialties)
}

// Invalidate drops every cached entry.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, c.generationKey()).Err()
}

func (c *Catalog) generationKey() string {
	return c.prefix + ":gen"
}

// key resolves name under the current generation. ok is false when redis is unreachable.
func (c *Catalog) key(ctx context.Context, name string) (string, bool) {
	gen, err := c.rdb.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		gen = 0
	} else if err != nil {
		c.warn("catalog cache unavailable", err)
		return "", false
	}
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, name), true
}

func (c *Catalog) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "err", err)
	}
}

// load serves key from redis, falling back to fetch. Cache failures never fail the read.
func load[T any](ctx context.Context, c *Catalog, name string, fetch func(context.Context) (T, error)) (T, error) {
	key, ok := c.key(ctx, name)
	if ok {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		case !errors.Is(err, redis.Nil):
			c.warn("catalog cache read failed", err)
		}
	}

	v, err := fetch(ctx)
	if err != nil || !ok {
		return v, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warn("catalog cache write failed", err)
	}
	return v, nil
}
