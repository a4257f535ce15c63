package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/devblac/event-watcher/internal/event"
	"github.com/devblac/event-watcher/internal/metrics"
	"github.com/devblac/event-watcher/internal/sink"
	"github.com/devblac/event-watcher/internal/storage"
	"github.com/devblac/event-watcher/internal/watcher"
)

const defaultDedupeTTL = 24 * time.Hour

// Journal persists route dedupe keys and the alert/send delivery records.
type Journal interface {
	IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error)
	MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error
	InsertAlert(ctx context.Context, a storage.Alert) error
	InsertSend(ctx context.Context, s storage.Send) error
}

// Subscriber is the part of the watcher a router attaches to.
type Subscriber interface {
	Subscribe(eventName string, fn watcher.Listener) watcher.SubscriptionID
}

// Options controls router behaviour shared by all routes.
type Options struct {
	Contract string
	DryRun   bool
}

// Router turns configured subscriptions into watcher listeners. Each route
// filters, rate limits and dedupes events before handing them to its sinks.
type Router struct {
	journal Journal
	sinks   map[string]sink.Sender
	routes  []*route
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	nowFunc func() time.Time
}

type route struct {
	sub   config.Subscription
	kind  event.Kind
	preds []Predicate
	ttl   time.Duration

	mu      sync.Mutex
	limiter *TokenBucket
}

// NewRouter compiles every subscription in cfg. journal may be nil, in which
// case dedupe keys and delivery records are not persisted.
func NewRouter(cfg *config.Config, journal Journal, sinks map[string]sink.Sender, opts Options, log *slog.Logger, m *metrics.Metrics) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	routes := make([]*route, 0, len(cfg.Subscriptions))
	for _, sub := range cfg.Subscriptions {
		preds, err := CompilePredicates(sub.Where)
		if err != nil {
			return nil, fmt.Errorf("subscription %s predicates: %w", sub.ID, err)
		}
		kind, err := event.ParseKind(sub.Decode)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		rt := &route{sub: sub, kind: kind, preds: preds}
		if sub.RateLimit != nil {
			rt.limiter = NewTokenBucket(sub.RateLimit.Capacity, sub.RateLimit.PerSecond)
		}
		if sub.Dedupe != nil {
			rt.ttl = defaultDedupeTTL
			if sub.Dedupe.TTL != "" {
				d, err := time.ParseDuration(sub.Dedupe.TTL)
				if err != nil {
					return nil, fmt.Errorf("subscription %s dedupe ttl: %w", sub.ID, err)
				}
				rt.ttl = d
			}
		}
		for _, id := range sub.Sinks {
			if _, ok := sinks[id]; !ok {
				return nil, fmt.Errorf("subscription %s: unknown sink %s", sub.ID, id)
			}
		}
		routes = append(routes, rt)
	}
	return &Router{
		journal: journal,
		sinks:   sinks,
		routes:  routes,
		opts:    opts,
		log:     log,
		metrics: m,
		nowFunc: time.Now,
	}, nil
}

// Attach subscribes one listener per route and returns the ids by route id.
func (r *Router) Attach(w Subscriber) map[string]watcher.SubscriptionID {
	ids := make(map[string]watcher.SubscriptionID, len(r.routes))
	for _, rt := range r.routes {
		ids[rt.sub.ID] = w.Subscribe(rt.sub.Event, r.listener(rt))
	}
	return ids
}

func (r *Router) listener(rt *route) watcher.Listener {
	return func(ctx context.Context, events []event.Event) error {
		var errs []error
		for _, ev := range events {
			if err := r.handle(ctx, rt, ev); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", rt.sub.ID, ev.Hash, err))
			}
		}
		return errors.Join(errs...)
	}
}

func (r *Router) handle(ctx context.Context, rt *route, ev event.Event) error {
	decoded, err := event.DecodeEvent(rt.kind, ev)
	if err != nil {
		return err
	}

	pass, err := allPredicates(rt.preds, predicateArgs(ev, decoded))
	if err != nil || !pass {
		return err
	}

	now := r.nowFunc()
	if rt.limiter != nil && !rt.allow(now) {
		r.log.Warn("rate limited", "subscription", rt.sub.ID, "tx", ev.TxHash)
		r.metrics.AlertsDropped()
		return nil
	}

	if rt.sub.Dedupe != nil && r.journal != nil {
		key := buildDedupeKey(rt.sub.ID, rt.sub.Dedupe.Key, ev)
		dup, err := r.journal.IsDuplicate(ctx, key, now)
		if err != nil {
			return err
		}
		if dup {
			r.log.Debug("duplicate suppressed", "subscription", rt.sub.ID, "dedupe", key)
			r.metrics.AlertsDropped()
			return nil
		}
		if err := r.journal.MarkDedupe(ctx, key, now.Add(rt.ttl)); err != nil {
			return err
		}
	}

	payload := sink.EventPayload{
		Subscription: rt.sub.ID,
		Event:        ev.Name,
		Contract:     r.opts.Contract,
		BlockNumber:  ev.BlockNumber,
		Hash:         ev.Hash,
		TxHash:       ev.TxHash,
		LogIndex:     ev.LogIndex,
		Fields:       ev.Fields,
		Decoded:      decoded.Value(),
	}
	if r.opts.DryRun {
		r.log.Info("dry run: not sending", "subscription", rt.sub.ID, "event", ev.Name, "tx", ev.TxHash)
		return nil
	}

	alertID := rt.sub.ID + ":" + ev.Hash
	if r.journal != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if err := r.journal.InsertAlert(ctx, storage.Alert{
			ID:          alertID,
			RouteID:     rt.sub.ID,
			EventHash:   ev.Hash,
			TxHash:      ev.TxHash,
			PayloadJSON: string(body),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
	}

	var errs []error
	for _, sinkID := range rt.sub.Sinks {
		sendErr := r.sinks[sinkID].Send(ctx, payload)
		status, msg := "sent", ""
		if sendErr != nil {
			status, msg = "failed", sendErr.Error()
			errs = append(errs, fmt.Errorf("sink %s: %w", sinkID, sendErr))
		} else {
			r.metrics.AlertsSent()
		}
		if r.journal != nil {
			if err := r.journal.InsertSend(ctx, storage.Send{AlertID: alertID, SinkID: sinkID, Status: status, Error: msg, CreatedAt: now}); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (rt *route) allow(now time.Time) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.limiter.Allow(now)
}

// predicateArgs exposes the event fields plus any decoded attributes.
func predicateArgs(ev event.Event, decoded event.Decoded) map[string]any {
	if decoded.ChainCreated == nil {
		return ev.Fields
	}
	args := make(map[string]any, len(ev.Fields)+4)
	for k, v := range ev.Fields {
		args[k] = v
	}
	cc := decoded.ChainCreated
	args["PlasmaChainAddress"] = cc.PlasmaChainAddress
	args["PlasmaChainName"] = cc.PlasmaChainName
	args["OperatorEndpoint"] = cc.OperatorEndpoint
	args["OperatorAddress"] = cc.OperatorAddress
	return args
}

func allPredicates(preds []Predicate, args map[string]any) (bool, error) {
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// buildDedupeKey expands the tokens event_hash, txhash, logIndex and block in
// pattern and scopes the result to the subscription.
func buildDedupeKey(subID, pattern string, ev event.Event) string {
	if pattern == "" {
		pattern = "txhash"
	}
	key := strings.ReplaceAll(pattern, "event_hash", ev.Hash)
	key = strings.ReplaceAll(key, "txhash", ev.TxHash)
	key = strings.ReplaceAll(key, "logIndex", strconv.FormatUint(uint64(ev.LogIndex), 10))
	key = strings.ReplaceAll(key, "block", strconv.FormatUint(ev.BlockNumber, 10))
	return subID + ":" + key
}
