package export

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrReportNotFound means the version has not been exported since the cache was last cleared.
var ErrReportNotFound = errors.New("export report not found")

const (
	reportKeyPrefix = "export:report:"
	reportTTL       = 30 * 24 * time.Hour
)

// ReportCache keeps the last export report per version in Redis.
type ReportCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func reportKey(versionID int64) string {
	return reportKeyPrefix + strconv.FormatInt(versionID, 10)
}

func (c *ReportCache) Save(ctx context.Context, r Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = reportTTL
	}
	return c.RDB.Set(ctx, reportKey(r.VersionID), b, ttl).Err()
}

func (c *ReportCache) Get(ctx context.Context, versionID int64) (*Report, error) {
	b, err := c.RDB.Get(ctx, reportKey(versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
