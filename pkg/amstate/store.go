// Redis-backed persistence for maintenance windows and alarms
package amstate

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/go-redis/redis/v8"
)

const (
	maintenanceIdsKey    = "maintenanceIds"
	maintenancesByEndKey = "maintenancesByEnd"
	alarmIdsKey          = "alarmIds"
)

func MaintenanceKey(user string, id int64) string {
	return fmt.Sprintf("maintenance:%s:%d", user, id)
}

func AlarmKey(user string, id int64) string {
	return fmt.Sprintf("alarm:%s:%d", user, id)
}

func maintenancesKey(user string) string {
	return "maintenances:" + user
}

func alarmsKey(user string) string {
	return "alarms:" + user
}

func faultsKey(user string, id int64) string {
	return fmt.Sprintf("faults:%s:%d", user, id)
}

func maintFaultsKey(user string, id int64) string {
	return fmt.Sprintf("maintFaults:%s:%d", user, id)
}

// "<kind>:<user>:<id>" => (user, id)
func parseRecordKey(kind string, key string) (string, int64, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != kind {
		return "", 0, false
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}

	return parts[1], id, true
}

// called after a maintenance window was removed
type MaintenanceEndHandler func(ctx context.Context, m *Maintenance) error

type Store struct {
	redis *redis.Client
	logl  *logex.Leveled
	now   func() time.Time

	hooksMu             sync.Mutex
	onMaintenanceEnd    MaintenanceEndHandler
	onMaintenanceChange func()
}

func New(client *redis.Client, logger *log.Logger) *Store {
	return &Store{
		redis: client,
		logl:  logex.Levels(logger),
		now:   time.Now,
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Now() time.Time {
	return s.now()
}

// OnMaintenanceEnd registers the handler that is run whenever a maintenance window is
// deleted (manually or by expiry).
func (s *Store) OnMaintenanceEnd(handler MaintenanceEndHandler) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	s.onMaintenanceEnd = handler
}

// OnMaintenanceChange registers a function that is called after each create/delete.
// it must not block.
func (s *Store) OnMaintenanceChange(fn func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	s.onMaintenanceChange = fn
}

func (s *Store) maintenanceEndHandler() MaintenanceEndHandler {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	return s.onMaintenanceEnd
}

func (s *Store) maintenanceChanged() {
	s.hooksMu.Lock()
	fn := s.onMaintenanceChange
	s.hooksMu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// ids are never reused, so an id at or below the counter that no longer resolves means
// the record was deleted
func (s *Store) currentId(ctx context.Context, countersKey string, user string) (int64, error) {
	id, err := s.redis.HGet(ctx, countersKey, user).Int64()
	switch {
	case err == redis.Nil:
		return 0, nil
	case err != nil:
		return 0, err
	default:
		return id, nil
	}
}

func (s *Store) allocateId(ctx context.Context, countersKey string, user string) (int64, error) {
	id, err := s.redis.HIncrBy(ctx, countersKey, user, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("allocateId %s: %w", countersKey, err)
	}

	return id, nil
}

func parseIds(members []string) []int64 {
	ids := []int64{}
	for _, member := range members {
		if id, err := strconv.ParseInt(member, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}

	return ids
}
