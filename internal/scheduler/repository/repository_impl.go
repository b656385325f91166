package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/botledger/internal/scheduler/domain"
	"github.com/smallbiznis/botledger/pkg/kvstore"
)

const (
	schedulePrefix = "schedule:"
	indexPrefix    = "contact_schedule:"
)

type repo struct {
	kv kvstore.Store
}

func Provide(kv kvstore.Store) domain.Repository {
	return &repo{kv: kv}
}

func (r *repo) Save(ctx context.Context, info domain.ScheduleInfo, ttl time.Duration) error {
	body, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, scheduleKey(info.ScheduleID), string(body), ttl)
}

func (r *repo) Find(ctx context.Context, scheduleID string) (*domain.ScheduleInfo, error) {
	value, ok, err := r.kv.Get(ctx, scheduleKey(scheduleID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var info domain.ScheduleInfo
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *repo) ScheduleIDs(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx, schedulePrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, schedulePrefix))
	}
	return ids, nil
}

func (r *repo) SaveIndex(ctx context.Context, meta domain.ScheduleMetadata, scheduleID string, ttl time.Duration) error {
	return r.kv.Set(ctx, indexKey(meta.ContactID, meta.Provider, meta.TriggerType), scheduleID, ttl)
}

func (r *repo) TakeIndex(ctx context.Context, meta domain.ScheduleMetadata) (string, error) {
	key := indexKey(meta.ContactID, meta.Provider, meta.TriggerType)
	scheduleID, ok, err := r.kv.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	if err := r.kv.Del(ctx, key); err != nil {
		return "", err
	}
	return scheduleID, nil
}

func (r *repo) IndexedIDs(ctx context.Context, contactID, provider string) ([]string, error) {
	pattern := indexPrefix + escapeGlob(contactID) + ":"
	if provider != "" {
		pattern += escapeGlob(provider) + ":"
	}
	keys, err := r.kv.Keys(ctx, pattern+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		scheduleID, ok, err := r.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, scheduleID)
		}
	}
	return ids, nil
}

func scheduleKey(scheduleID string) string {
	return schedulePrefix + scheduleID
}

func indexKey(contactID, provider, triggerType string) string {
	return indexPrefix + contactID + ":" + provider + ":" + triggerType
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
