package amstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/go-redis/redis/v8"
)

func NewAlarm(user string, monitor string, timeOpened int64) (*Alarm, error) {
	if !amdomain.IsUuid(user) {
		return nil, validationErr(`invalid alarm: "user" (UUID) is required: %q`, user)
	}

	return &Alarm{
		V:           AlarmModelVersion,
		User:        user,
		Monitor:     monitor,
		TimeOpened:  timeOpened,
		Faults:      []Fault{},
		MaintFaults: []Fault{},
	}, nil
}

// SaveAlarm writes the full record. an id is allocated on first save.
func (s *Store) SaveAlarm(ctx context.Context, a *Alarm) error {
	if a.Id == 0 {
		id, err := s.allocateId(ctx, alarmIdsKey, a.User)
		if err != nil {
			return err
		}
		a.Id = id

		s.logl.Debug.Printf("new alarm %s (monitor=%s)", a.Key(), a.Monitor)
	}

	fields, nulls := encodeAlarm(a)

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, alarmsKey(a.User), a.Id)
		pipe.HSet(ctx, a.Key(), fields)
		if len(nulls) > 0 {
			pipe.HDel(ctx, a.Key(), nulls...)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("SaveAlarm: %w", err)
	}

	return nil
}

// GetAlarm returns nil (without error) if the alarm does not exist or can't be decoded
func (s *Store) GetAlarm(ctx context.Context, user string, id int64) (*Alarm, error) {
	a, err := s.getAlarmByKey(ctx, AlarmKey(user, id))
	if err != nil || a == nil {
		return nil, err
	}

	if a.User != user || a.Id != id {
		s.logl.Error.Printf("alarm %s does not match its key", AlarmKey(user, id))
		return nil, nil
	}

	return a, nil
}

func (s *Store) getAlarmByKey(ctx context.Context, key string) (*Alarm, error) {
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getAlarm: %w", err)
	}

	if len(fields) == 0 {
		return nil, nil
	}

	a, err := decodeAlarm(fields)
	if err != nil {
		s.logl.Error.Printf("skipping alarm: %v", &corruptRecordError{key, err})
		return nil, nil
	}

	if err := s.loadFaults(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// FilterAlarms lists user's alarms (sorted by id) matching the filter
func (s *Store) FilterAlarms(ctx context.Context, user string, filter AlarmFilter) ([]Alarm, error) {
	members, err := s.redis.SMembers(ctx, alarmsKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("FilterAlarms: %w", err)
	}

	ids := parseIds(members)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	alarms := []Alarm{}
	for _, id := range ids {
		a, err := s.GetAlarm(ctx, user, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}

		if filter.Monitor != "" && a.Monitor != filter.Monitor {
			continue
		}
		if filter.Closed != nil && a.Closed != *filter.Closed {
			continue
		}

		alarms = append(alarms, *a)
	}

	return alarms, nil
}

func (s *Store) ListAlarms(ctx context.Context, user string) ([]Alarm, error) {
	return s.FilterAlarms(ctx, user, AlarmFilter{})
}

// all users' alarms, ordered by (user, id)
func (s *Store) ListAllAlarms(ctx context.Context) ([]Alarm, error) {
	keys := []string{}

	iter := s.redis.Scan(ctx, 0, "alarm:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ListAllAlarms: %w", err)
	}

	alarms := []Alarm{}
	for _, key := range keys {
		if _, _, ok := parseRecordKey("alarm", key); !ok {
			continue
		}

		a, err := s.getAlarmByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}

		alarms = append(alarms, *a)
	}

	sort.Slice(alarms, func(i, j int) bool {
		if alarms[i].User != alarms[j].User {
			return alarms[i].User < alarms[j].User
		}
		return alarms[i].Id < alarms[j].Id
	})

	return alarms, nil
}

func (s *Store) DeleteAlarm(ctx context.Context, user string, id int64) error {
	s.logl.Info.Printf("DeleteAlarm %s", AlarmKey(user, id))

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, alarmsKey(user), id)
		pipe.Del(ctx, AlarmKey(user, id), faultsKey(user, id), maintFaultsKey(user, id))
		return nil
	}); err != nil {
		return fmt.Errorf("DeleteAlarm: %w", err)
	}

	return nil
}

func (s *Store) CloseAlarm(ctx context.Context, a *Alarm, timeClosed int64) error {
	a.Closed = true
	a.TimeClosed = &timeClosed

	return s.redis.HSet(ctx, a.Key(), map[string]interface{}{
		"closed":     "true",
		"timeClosed": timeClosed,
	}).Err()
}

func (s *Store) ReopenAlarm(ctx context.Context, a *Alarm) error {
	a.Closed = false
	a.TimeClosed = nil

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, a.Key(), "closed", "false")
		pipe.HDel(ctx, a.Key(), "timeClosed")
		return nil
	})
	return err
}

func (s *Store) SetAlarmSuppressed(ctx context.Context, a *Alarm, suppressed bool) error {
	a.SuppressNotifications = suppressed

	return s.redis.HSet(ctx, a.Key(), "suppressNotifications", fmt.Sprintf("%v", suppressed)).Err()
}

func (s *Store) SetAlarmLastEvent(ctx context.Context, a *Alarm, timeLastEvent int64) error {
	a.TimeLastEvent = &timeLastEvent

	return s.redis.HSet(ctx, a.Key(), "timeLastEvent", timeLastEvent).Err()
}

func (s *Store) IncrAlarmNotifications(ctx context.Context, a *Alarm) error {
	num, err := s.redis.HIncrBy(ctx, a.Key(), "numNotifications", 1).Result()
	if err != nil {
		return err
	}

	a.NumNotifications = num

	return nil
}

// PutFault records the fault in the bucket chosen by inMaintenance, removing it from
// the other bucket
func (s *Store) PutFault(ctx context.Context, a *Alarm, fault Fault, inMaintenance bool) error {
	faultKey := fault.Event.FaultKey()

	serialized, err := json.Marshal(fault)
	if err != nil {
		return err
	}

	put, remove := faultsKey(a.User, a.Id), maintFaultsKey(a.User, a.Id)
	if inMaintenance {
		put, remove = remove, put
	}

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, put, faultKey, string(serialized))
		pipe.HDel(ctx, remove, faultKey)
		return nil
	}); err != nil {
		return fmt.Errorf("PutFault: %w", err)
	}

	a.Faults = withoutFault(a.Faults, faultKey)
	a.MaintFaults = withoutFault(a.MaintFaults, faultKey)

	if inMaintenance {
		a.MaintFaults = append(a.MaintFaults, fault)
	} else {
		a.Faults = append(a.Faults, fault)
	}

	return nil
}

// RemoveFault clears the fault from both buckets
func (s *Store) RemoveFault(ctx context.Context, a *Alarm, faultKey string) error {
	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, faultsKey(a.User, a.Id), faultKey)
		pipe.HDel(ctx, maintFaultsKey(a.User, a.Id), faultKey)
		return nil
	}); err != nil {
		return fmt.Errorf("RemoveFault: %w", err)
	}

	a.Faults = withoutFault(a.Faults, faultKey)
	a.MaintFaults = withoutFault(a.MaintFaults, faultKey)

	return nil
}

func (s *Store) loadFaults(ctx context.Context, a *Alarm) error {
	var err error
	a.Faults, err = s.readFaults(ctx, faultsKey(a.User, a.Id))
	if err != nil {
		return err
	}

	a.MaintFaults, err = s.readFaults(ctx, maintFaultsKey(a.User, a.Id))
	return err
}

// ordered by event time
func (s *Store) readFaults(ctx context.Context, key string) ([]Fault, error) {
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("readFaults: %w", err)
	}

	faults := []Fault{}
	for faultKey, serialized := range fields {
		fault := Fault{}
		if err := json.Unmarshal([]byte(serialized), &fault); err != nil {
			s.logl.Error.Printf("skipping fault %s in %s: %v", faultKey, key, err)
			continue
		}

		faults = append(faults, fault)
	}

	sort.Slice(faults, func(i, j int) bool {
		if faults[i].Event.Time != faults[j].Event.Time {
			return faults[i].Event.Time < faults[j].Event.Time
		}
		return faults[i].Event.FaultKey() < faults[j].Event.FaultKey()
	})

	return faults, nil
}

func (s *Store) CurrentAlarmId(ctx context.Context, user string) (int64, error) {
	return s.currentId(ctx, alarmIdsKey, user)
}

func withoutFault(faults []Fault, faultKey string) []Fault {
	remaining := []Fault{}
	for _, fault := range faults {
		if fault.Event.FaultKey() != faultKey {
			remaining = append(remaining, fault)
		}
	}

	return remaining
}
