package amstate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/ammetrics"
	"github.com/function61/amon/pkg/csvrow"
	"github.com/go-redis/redis/v8"
)

// validates params and resolves times. does not allocate an id.
func newMaintenance(params MaintenanceParams, s *Store) (*Maintenance, error) {
	if !amdomain.IsUuid(params.User) {
		return nil, validationErr(`"user" (UUID) is required`)
	}
	if params.Start == "" {
		return nil, validationErr(`"start" is required`)
	}
	if params.End == "" {
		return nil, validationErr(`"end" is required`)
	}
	if utf8.RuneCountInString(params.Notes) > MaxNotesLength {
		return nil, validationErr(`"notes" max length is %d`, MaxNotesLength)
	}

	if err := validateScope(params.All, params.Probes != "", params.Machines != ""); err != nil {
		return nil, &ValidationError{err.Error()}
	}

	now := s.now()

	start, err := ResolveStart(params.Start, now)
	if err != nil {
		return nil, err
	}
	end, err := ResolveEnd(params.End, now)
	if err != nil {
		return nil, err
	}
	if start <= 0 || end <= 0 {
		return nil, validationErr(`"start" and "end" must be after the epoch`)
	}

	probes, err := uuidList("probes", params.Probes)
	if err != nil {
		return nil, err
	}
	machines, err := uuidList("machines", params.Machines)
	if err != nil {
		return nil, err
	}

	// normalization can drop everything, e.g. ","
	if err := validateScope(params.All, len(probes) > 0, len(machines) > 0); err != nil {
		return nil, &ValidationError{err.Error()}
	}

	return &Maintenance{
		V:        MaintenanceModelVersion,
		User:     params.User,
		Start:    start,
		End:      end,
		Notes:    params.Notes,
		All:      params.All,
		Probes:   probes,
		Machines: machines,
	}, nil
}

func uuidList(name string, csv string) ([]string, error) {
	if csv == "" {
		return nil, nil
	}

	items, err := csvrow.Parse(csv)
	if err != nil {
		return nil, validationErr(`invalid "%s": %v`, name, err)
	}

	items = csvrow.WithoutEmpties(items)
	for _, item := range items {
		if !amdomain.IsUuid(item) {
			return nil, validationErr(`invalid "%s": not a UUID: %q`, name, item)
		}
	}

	return items, nil
}

func (s *Store) CreateMaintenance(ctx context.Context, params MaintenanceParams) (*Maintenance, error) {
	m, err := newMaintenance(params, s)
	if err != nil {
		return nil, err
	}

	id, err := s.allocateId(ctx, maintenanceIdsKey, m.User)
	if err != nil {
		return nil, err
	}
	m.Id = id

	s.logl.Info.Printf("CreateMaintenance %s (start=%d end=%d scope=%s)", m.Key(), m.Start, m.End, m.Scope())

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, maintenancesKey(m.User), m.Id)
		pipe.ZAdd(ctx, maintenancesByEndKey, &redis.Z{
			Score:  float64(m.End),
			Member: m.Key(),
		})
		pipe.HSet(ctx, m.Key(), encodeMaintenance(m))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("CreateMaintenance: %w", err)
	}

	ammetrics.MaintenancesCreatedTotal.Inc()

	s.maintenanceChanged() // may need to reschedule

	return m, nil
}

// GetMaintenance returns nil (without error) if the window does not exist. a corrupt
// record is removed and treated as not existing.
func (s *Store) GetMaintenance(ctx context.Context, user string, id int64) (*Maintenance, error) {
	key := MaintenanceKey(user, id)

	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("GetMaintenance: %w", err)
	}

	m, err := decodeMaintenance(fields)
	if err == nil && (m.User != user || m.Id != id) {
		err = fmt.Errorf("record does not match its key (user=%s id=%d)", m.User, m.Id)
	}
	if err != nil {
		if len(fields) > 0 {
			s.logl.Error.Printf("removing invalid maintenance: %v", &corruptRecordError{key, err})
		}

		if err := s.purgeMaintenance(ctx, user, id); err != nil {
			return nil, err
		}

		return nil, nil
	}

	return m, nil
}

// sorted by id
func (s *Store) ListMaintenances(ctx context.Context, user string) ([]Maintenance, error) {
	members, err := s.redis.SMembers(ctx, maintenancesKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("ListMaintenances: %w", err)
	}

	ids := parseIds(members)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	maintenances := []Maintenance{}
	for _, id := range ids {
		m, err := s.GetMaintenance(ctx, user, id)
		if err != nil {
			return nil, err
		}
		if m == nil { // vanished or corrupt
			continue
		}

		maintenances = append(maintenances, *m)
	}

	return maintenances, nil
}

// all users' windows, ordered by end
func (s *Store) ListAllMaintenances(ctx context.Context) ([]Maintenance, error) {
	entries, err := s.MaintenancesByEnd(ctx)
	if err != nil {
		return nil, err
	}

	maintenances := []Maintenance{}
	for _, entry := range entries {
		m, err := s.GetMaintenance(ctx, entry.User, entry.Id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}

		maintenances = append(maintenances, *m)
	}

	return maintenances, nil
}

// MaintenancesByEnd reads the global index in ascending end time order
func (s *Store) MaintenancesByEnd(ctx context.Context) ([]IndexEntry, error) {
	return s.maintenancesByEndUntil(ctx, math.Inf(1))
}

// MaintenancesEndedBy returns index entries with end <= ts (epoch ms)
func (s *Store) MaintenancesEndedBy(ctx context.Context, ts int64) ([]IndexEntry, error) {
	return s.maintenancesByEndUntil(ctx, float64(ts))
}

func (s *Store) maintenancesByEndUntil(ctx context.Context, max float64) ([]IndexEntry, error) {
	maxStr := "+inf"
	if !math.IsInf(max, 1) {
		maxStr = strconv.FormatFloat(max, 'f', -1, 64)
	}

	items, err := s.redis.ZRangeByScoreWithScores(ctx, maintenancesByEndKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxStr,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("maintenancesByEnd: %w", err)
	}

	entries := []IndexEntry{}
	for _, item := range items {
		entry, ok := indexEntryFrom(item)
		if !ok {
			s.logl.Error.Printf("maintenancesByEnd: dropping malformed index member %v", item.Member)
			if err := s.redis.ZRem(ctx, maintenancesByEndKey, item.Member).Err(); err != nil {
				return nil, err
			}
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// NextMaintenanceExpiry returns the index entry with the earliest end, or nil if there
// are no windows
func (s *Store) NextMaintenanceExpiry(ctx context.Context) (*IndexEntry, error) {
	for {
		items, err := s.redis.ZRangeWithScores(ctx, maintenancesByEndKey, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("NextMaintenanceExpiry: %w", err)
		}

		if len(items) == 0 {
			return nil, nil
		}

		entry, ok := indexEntryFrom(items[0])
		if ok {
			return &entry, nil
		}

		s.logl.Error.Printf("NextMaintenanceExpiry: dropping malformed index member %v", items[0].Member)

		if err := s.redis.ZRem(ctx, maintenancesByEndKey, items[0].Member).Err(); err != nil {
			return nil, err
		}
	}
}

// DeleteMaintenance removes the window and runs the maintenance end handler. deleting a
// window that is already gone is a no-op (the handler runs only for the delete that
// removed the record). the handler's error is returned as *EndHandlerError, but the
// window is deleted regardless.
func (s *Store) DeleteMaintenance(ctx context.Context, m *Maintenance) error {
	s.logl.Info.Printf("DeleteMaintenance %s", m.Key())

	removed, err := s.removeMaintenanceKeys(ctx, m.User, m.Id)
	if err != nil {
		return fmt.Errorf("DeleteMaintenance: %w", err)
	}
	if !removed {
		s.logl.Debug.Printf("DeleteMaintenance %s: already gone", m.Key())
		return nil
	}

	var handlerErr error
	if handler := s.maintenanceEndHandler(); handler != nil && m.End != 0 {
		if err := handler(ctx, m); err != nil {
			handlerErr = &EndHandlerError{Key: m.Key(), Err: err}
			s.logl.Error.Println(handlerErr.Error())
		}
	}

	s.maintenanceChanged()

	return handlerErr
}

// like delete, but for records we can't decode (so no end handler)
func (s *Store) purgeMaintenance(ctx context.Context, user string, id int64) error {
	if _, err := s.removeMaintenanceKeys(ctx, user, id); err != nil {
		return fmt.Errorf("purgeMaintenance: %w", err)
	}

	return nil
}

// reports whether the record existed. MULTI makes this exact under concurrent deletes.
func (s *Store) removeMaintenanceKeys(ctx context.Context, user string, id int64) (bool, error) {
	key := MaintenanceKey(user, id)

	var del *redis.IntCmd
	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, maintenancesKey(user), id)
		pipe.ZRem(ctx, maintenancesByEndKey, key)
		del = pipe.Del(ctx, key)
		return nil
	}); err != nil {
		return false, err
	}

	return del.Val() > 0, nil
}

func (s *Store) CurrentMaintenanceId(ctx context.Context, user string) (int64, error) {
	return s.currentId(ctx, maintenanceIdsKey, user)
}

func indexEntryFrom(item redis.Z) (IndexEntry, bool) {
	key, isString := item.Member.(string)
	if !isString {
		return IndexEntry{}, false
	}

	user, id, ok := parseRecordKey("maintenance", key)
	if !ok {
		return IndexEntry{}, false
	}

	return IndexEntry{
		Key:  key,
		User: user,
		Id:   id,
		End:  int64(item.Score),
	}, true
}
