// Package stats keeps per-day operational counters in Redis. The counters
// are informational only; booking and check-in never read them.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backend-klinik/internal/models"
)

// Rejection reasons tracked per day.
var Reasons = []string{"capacity_full", "doctor_unavailable", "not_found", "wrong_date", "already_checked_in", "other"}

// keyTTL keeps a day's counters around for a while after the day ends.
const keyTTL = 35 * 24 * time.Hour

// maxInFlight caps concurrent increments; extra ones are skipped while Redis
// is slow.
const maxInFlight = 64

type Daily struct {
	Date       models.Date      `json:"date"`
	Bookings   int64            `json:"bookings"`
	CheckIns   int64            `json:"checkins"`
	Rejections map[string]int64 `json:"rejections"`
	Enabled    bool             `json:"enabled"`
}

type Recorder struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// New returns a Recorder. A nil client gives a recorder that counts nothing
// and reports zeros.
func New(client *redis.Client, logger zerolog.Logger) *Recorder {
	return &Recorder{
		client:  client,
		timeout: 500 * time.Millisecond,
		logger:  logger.With().Str("component", "stats").Logger(),
		slots:   make(chan struct{}, maxInFlight),
	}
}

func bookingsKey(date models.Date) string { return fmt.Sprintf("stats:bookings:%s", date) }
func checkinsKey(date models.Date) string { return fmt.Sprintf("stats:checkins:%s", date) }
func rejectionsKey(reason string, date models.Date) string {
	return fmt.Sprintf("stats:rejections:%s:%s", reason, date)
}

func (r *Recorder) Booked(ctx context.Context, date models.Date) {
	r.incr(ctx, bookingsKey(date))
}

func (r *Recorder) CheckedIn(ctx context.Context, date models.Date) {
	r.incr(ctx, checkinsKey(date))
}

func (r *Recorder) Rejected(ctx context.Context, reason string, date models.Date) {
	r.incr(ctx, rejectionsKey(reason, date))
}

// incr - INCR + EXPIRE dalam satu pipeline, jalan di goroutine sendiri supaya
// booking/check-in tidak menunggu Redis. Error cuma di-log.
func (r *Recorder) incr(ctx context.Context, key string) {
	if r.client == nil {
		return
	}
	select {
	case r.slots <- struct{}{}:
	default:
		r.logger.Warn().Str("key", key).Msg("stats increment skipped, too many in flight")
		return
	}

	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer func() {
			<-r.slots
			r.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		pipe := r.client.TxPipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, keyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("stats increment failed")
		}
	}()
}

// Wait blocks until every pending increment has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Daily reads all counters of one day.
func (r *Recorder) Daily(ctx context.Context, date models.Date) (Daily, error) {
	out := Daily{Date: date, Rejections: map[string]int64{}}
	for _, reason := range Reasons {
		out.Rejections[reason] = 0
	}
	if r.client == nil {
		return out, nil
	}
	out.Enabled = true

	keys := []string{bookingsKey(date), checkinsKey(date)}
	for _, reason := range Reasons {
		keys = append(keys, rejectionsKey(reason, date))
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Daily{}, fmt.Errorf("stats: mget: %w", err)
	}

	counts := make([]int64, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			counts[i] = n
		}
	}

	out.Bookings = counts[0]
	out.CheckIns = counts[1]
	for i, reason := range Reasons {
		out.Rejections[reason] = counts[i+2]
	}
	return out, nil
}
