// Package directory resolves a topic ID to its current subscriber set
// through a time-bounded cache with single-flight population.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/topichub/delivery-engine/internal/domain"
	"github.com/topichub/delivery-engine/internal/repository"
)

// Directory is the process-wide subscriber cache. It is explicitly
// constructed and injected rather than global, so tests get independent
// instances.
//
// Entries expire a fixed TTL after population. A deleted topic is cached as
// a negative entry, distinct from an empty subscriber set, so repeated jobs
// against a dead topic do not each re-trigger a bulk fetch. When the cache
// holds maxTopics entries a miss is served by an uncached direct fetch
// instead of failing.
type Directory struct {
	store     repository.SubscriptionStore
	ttl       time.Duration
	maxTopics int
	logger    *zap.Logger

	flight singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	set      domain.TopicSubscriberSet
	notFound bool
	expires  time.Time
}

func New(store repository.SubscriptionStore, ttl time.Duration, maxTopics int, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Directory{
		store:     store,
		ttl:       ttl,
		maxTopics: maxTopics,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Resolve returns the confirmed subscriber set for the topic.
//
// On a miss exactly one caller per topic performs the backing bulk fetch;
// concurrent callers block on that flight and share its result. Because the
// flight's error is returned as-is, domain.ErrTopicNotFound reaches every
// caller unwrapped.
func (d *Directory) Resolve(ctx context.Context, topicID string) (domain.TopicSubscriberSet, error) {
	if set, err, ok := d.cached(topicID); ok {
		return set, err
	}

	v, err, _ := d.flight.Do(topicID, func() (any, error) {
		// A concurrent flight may have populated the entry while this
		// caller was queued behind the key.
		if set, err, ok := d.cached(topicID); ok {
			return set, err
		}
		return d.populate(ctx, topicID)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.TopicSubscriberSet), nil
}

// ResolveTokens maps compact subscriber tokens (bare subscription IDs) to
// full records through the cached topic set. IDs not present in the set are
// skipped with a logged notice: the subscription may have been deleted
// between enqueue and delivery, and partial resolution is acceptable.
func (d *Directory) ResolveTokens(ctx context.Context, topicID string, subscriptionIDs []string) ([]domain.SubscriberRecord, error) {
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}

	set, err := d.Resolve(ctx, topicID)
	if err != nil {
		return nil, err
	}

	records := make([]domain.SubscriberRecord, 0, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		r, ok := set[id]
		if !ok {
			d.logger.Info("subscriber not found in topic set",
				zap.String("topic_id", topicID),
				zap.String("subscription_id", id))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// ResolveTokensDirect bypasses the cache entirely, resolving each ID with a
// point lookup against the backing store. Missing subscriptions are skipped
// with a logged notice, as in ResolveTokens. Freshness over throughput.
func (d *Directory) ResolveTokensDirect(ctx context.Context, subscriptionIDs []string) ([]domain.SubscriberRecord, error) {
	records := make([]domain.SubscriberRecord, 0, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		r, err := d.store.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			d.logger.Info("subscriber not found in store",
				zap.String("subscription_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// cached returns the live entry for the topic, if any. The third return
// reports whether an unexpired entry existed; the first two are the
// resolution outcome (a negative entry yields ErrTopicNotFound).
func (d *Directory) cached(topicID string) (domain.TopicSubscriberSet, error, bool) {
	d.mu.RLock()
	e, ok := d.entries[topicID]
	d.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		return nil, nil, false
	}
	if e.notFound {
		return nil, domain.ErrTopicNotFound, true
	}
	return e.set, nil, true
}

// populate performs the backing bulk fetch and admits the result into the
// cache when capacity allows. Runs inside the single-flight group.
func (d *Directory) populate(ctx context.Context, topicID string) (domain.TopicSubscriberSet, error) {
	start := time.Now()
	records, err := d.store.ListByTopic(ctx, topicID)
	if errors.Is(err, domain.ErrTopicNotFound) {
		d.admit(topicID, &entry{notFound: true, expires: time.Now().Add(d.ttl)})
		return nil, domain.ErrTopicNotFound
	}
	if err != nil {
		// Transient store failures are not cached; the next resolution
		// retries the fetch.
		return nil, err
	}

	set := make(domain.TopicSubscriberSet, len(records))
	for _, r := range records {
		if !r.Confirmed() {
			continue
		}
		set[r.SubscriptionID] = r
	}

	d.admit(topicID, &entry{set: set, expires: time.Now().Add(d.ttl)})
	d.logger.Info("subscriber cache populated",
		zap.String("topic_id", topicID),
		zap.Int("subscribers", len(set)),
		zap.Duration("fetch_time", time.Since(start)))
	return set, nil
}

// admit stores the entry unless the cache is at capacity, in which case the
// fetch result is served uncached.
func (d *Directory) admit(topicID string, e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[topicID]; !ok || existing != e {
		// Reclaim expired entries before giving up on admission.
		if d.maxTopics > 0 && len(d.entries) >= d.maxTopics {
			now := time.Now()
			for k, v := range d.entries {
				if now.After(v.expires) {
					delete(d.entries, k)
				}
			}
		}
		if d.maxTopics > 0 && len(d.entries) >= d.maxTopics {
			if _, ok := d.entries[topicID]; !ok {
				d.logger.Warn("subscriber cache at capacity, serving uncached fetch",
					zap.String("topic_id", topicID),
					zap.Int("max_topics", d.maxTopics))
				return
			}
		}
		d.entries[topicID] = e
	}
}

// Len reports the number of cached topics, expired entries included.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
