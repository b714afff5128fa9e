package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BundleFox/app/models"
)

const (
	mauKey       = "usage:counters:mau"
	bandwidthKey = "usage:counters:bandwidth"
	seenPrefix   = "usage:mau:seen:"

	// Devices are remembered a little longer than the longest billing cycle.
	seenTTL = 35 * 24 * time.Hour

	fieldSep = "|"
)

// Counters buffers per-app daily usage in Redis and flushes it to app_daily_usages.
type Counters struct {
	rdb *redis.Client
	db  *gorm.DB
}

func New(rdb *redis.Client, db *gorm.DB) *Counters {
	return &Counters{rdb: rdb, db: db}
}

func field(appID string, day time.Time) string {
	return appID + fieldSep + day.UTC().Format(models.UsageDateLayout)
}

// AddMAU counts a device once per app and billing cycle. It reports whether
// the device was new in the cycle.
func (c *Counters) AddMAU(ctx context.Context, appID, deviceID string, cycleStart, day time.Time) (bool, error) {
	seen := fmt.Sprintf("%s%s:%d:%s", seenPrefix, appID, cycleStart.Unix(), deviceID)
	first, err := c.rdb.SetNX(ctx, seen, 1, seenTTL).Result()
	if err != nil || !first {
		return false, err
	}
	return true, c.rdb.HIncrBy(ctx, mauKey, field(appID, day), 1).Err()
}

// AddBandwidth adds served bytes to the app's daily counter.
func (c *Counters) AddBandwidth(ctx context.Context, appID string, day time.Time, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return c.rdb.HIncrBy(ctx, bandwidthKey, field(appID, day), bytes).Err()
}

// RecordStorage stores the storage footprint observed for a day, keeping the maximum.
func (c *Counters) RecordStorage(ctx context.Context, appID string, day time.Time, bytes int64) error {
	row := models.AppDailyUsage{AppID: appID, Date: day.UTC().Format(models.UsageDateLayout), StorageBytes: bytes}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"storage_bytes": gorm.Expr("CASE WHEN storage_bytes < ? THEN ? ELSE storage_bytes END", bytes, bytes),
			"updated_at":    time.Now(),
		}),
	}).Create(&row).Error
}

// Flush drains both counters and returns the ids of apps that received data.
func (c *Counters) Flush(ctx context.Context) ([]string, error) {
	touched := map[string]struct{}{}
	for _, target := range []struct{ key, column string }{
		{mauKey, "mau"},
		{bandwidthKey, "bandwidth_bytes"},
	} {
		apps, err := c.flushHash(ctx, target.key, target.column)
		if err != nil {
			return nil, err
		}
		for _, a := range apps {
			touched[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(touched))
	for a := range touched {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// flushHash drains a Redis hash atomically and applies the increments.
// Uses RENAME to a temporary key so in-flight increments land in a fresh hash.
func (c *Counters) flushHash(ctx context.Context, redisKey, column string) ([]string, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		// Nothing buffered
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil, nil
		}
		return nil, err
	}
	defer c.rdb.Del(ctx, tmpKey)

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}

	type pair struct {
		appID, date string
		inc         int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		appID, date, ok := strings.Cut(k, fieldSep)
		if !ok {
			continue
		}
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{appID: appID, date: date, inc: inc})
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].appID != pairs[j].appID {
			return pairs[i].appID < pairs[j].appID
		}
		return pairs[i].date < pairs[j].date
	})

	apps := make([]string, 0, len(pairs))
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pairs {
			row := models.AppDailyUsage{AppID: p.appID, Date: p.date}
			switch column {
			case "mau":
				row.MAU = p.inc
			default:
				row.BandwidthBytes = p.inc
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "app_id"}, {Name: "date"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					column:       gorm.Expr(column+" + ?", p.inc),
					"updated_at": time.Now(),
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
			if len(apps) == 0 || apps[len(apps)-1] != p.appID {
				apps = append(apps, p.appID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}
