// Package job defines the fan-out job wire format and its decoder.
//
// A serialized job is newline-delimited text:
//
//	<subscriberCount>
//	<subscriberToken_1>
//	...
//	<subscriberToken_N>
//	<message payload JSON, possibly multi-line>
//
// A subscriber token is either the full "protocol|endpoint|subscriptionID"
// form or, in compact mode, a bare subscription ID resolvable through the
// subscriber directory.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/directory"
	"github.com/topichub/delivery-engine/internal/domain"
)

// FanoutJob is one message paired with the resolved subscriber list it must
// be delivered to. The message and records are shared read-only by every
// delivery unit spawned from the job.
type FanoutJob struct {
	Message     *domain.Message
	Subscribers []domain.SubscriberRecord
}

// Decoder turns the wire form into a FanoutJob. Compact tokens resolve
// through the directory cache, or through per-ID point lookups when
// useCache is disabled by configuration.
type Decoder struct {
	dir      *directory.Directory
	renderer Renderer
	useCache bool
	logger   *zap.Logger
}

func NewDecoder(dir *directory.Directory, renderer Renderer, useCache bool, logger *zap.Logger) *Decoder {
	return &Decoder{dir: dir, renderer: renderer, useCache: useCache, logger: logger}
}

// Decode parses and resolves a serialized fan-out job.
//
// domain.ErrTopicNotFound from subscriber resolution propagates unchanged so
// the consumer can drop the job; every other resolution or payload failure
// is wrapped into domain.ErrInternal carrying the original message.
func (d *Decoder) Decode(ctx context.Context, raw string) (*FanoutJob, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: expected <count> line followed by tokens and payload, got %d line(s)",
			domain.ErrMalformedJob, len(lines))
	}

	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: bad subscriber count %q", domain.ErrMalformedJob, lines[0])
	}
	if len(lines) < 1+count+1 {
		return nil, fmt.Errorf("%w: count says %d subscriber(s) but only %d line(s) follow",
			domain.ErrMalformedJob, count, len(lines)-1)
	}

	subscribers, err := d.resolveTokens(ctx, lines[1:1+count])
	if err != nil {
		if errors.Is(err, domain.ErrTopicNotFound) {
			d.logger.Error("fan-out job references deleted topic", zap.Error(err))
			return nil, err
		}
		d.logger.Error("subscriber resolution failed", zap.Error(err))
		return nil, fmt.Errorf("%w: resolve subscribers: %v", domain.ErrInternal, err)
	}

	payload := strings.Join(lines[1+count:], "\n")
	var msg domain.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		d.logger.Error("message payload decode failed", zap.Error(err))
		return nil, fmt.Errorf("%w: decode message payload: %v", domain.ErrInternal, err)
	}

	if err := d.renderer.Render(ctx, &msg, protocolsOf(subscribers)); err != nil {
		d.logger.Error("protocol preprocessing failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: render message: %v", domain.ErrInternal, err)
	}

	return &FanoutJob{Message: &msg, Subscribers: subscribers}, nil
}

// resolveTokens handles a mixed token list: full tokens are parsed inline,
// compact tokens are collected and resolved together against the topic
// derived from the first token.
func (d *Decoder) resolveTokens(ctx context.Context, tokens []string) ([]domain.SubscriberRecord, error) {
	if len(tokens) == 0 {
		// Zero-count job: topic identity is indeterminate and resolution is
		// skipped entirely.
		return nil, nil
	}

	var (
		full    []domain.SubscriberRecord
		compact []string
	)
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if strings.Contains(token, "|") {
			r, err := parseFullToken(token)
			if err != nil {
				return nil, err
			}
			full = append(full, r)
			continue
		}
		compact = append(compact, token)
	}

	if len(compact) == 0 {
		return full, nil
	}

	var (
		resolved []domain.SubscriberRecord
		err      error
	)
	if d.useCache {
		// Subscription IDs encode their owning topic by convention.
		topicID, ok := domain.TopicOfSubscription(compact[0])
		if !ok {
			return nil, fmt.Errorf("cannot derive topic from subscription ID %q", compact[0])
		}
		resolved, err = d.dir.ResolveTokens(ctx, topicID, compact)
	} else {
		resolved, err = d.dir.ResolveTokensDirect(ctx, compact)
	}
	if err != nil {
		return nil, err
	}
	return append(full, resolved...), nil
}

func parseFullToken(token string) (domain.SubscriberRecord, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return domain.SubscriberRecord{}, fmt.Errorf("bad subscriber token %q", token)
	}
	p := domain.Protocol(parts[0])
	if !p.IsValid() {
		return domain.SubscriberRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidProtocol, parts[0])
	}
	return domain.SubscriberRecord{Protocol: p, Endpoint: parts[1], SubscriptionID: parts[2]}, nil
}

// Encode produces the wire form consumed by Decode. Compact mode writes
// bare subscription IDs and is valid only when the receiving side resolves
// them through a shared directory.
func Encode(msg *domain.Message, subscribers []domain.SubscriberRecord, compactTokens bool) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message payload: %w", err)
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(len(subscribers)))
	b.WriteByte('\n')
	for _, r := range subscribers {
		if compactTokens {
			b.WriteString(r.SubscriptionID)
		} else {
			b.WriteString(string(r.Protocol))
			b.WriteByte('|')
			b.WriteString(r.Endpoint)
			b.WriteByte('|')
			b.WriteString(r.SubscriptionID)
		}
		b.WriteByte('\n')
	}
	b.Write(payload)
	return b.String(), nil
}

func protocolsOf(subscribers []domain.SubscriberRecord) []domain.Protocol {
	seen := make(map[domain.Protocol]struct{}, len(subscribers))
	var protocols []domain.Protocol
	for _, r := range subscribers {
		if _, ok := seen[r.Protocol]; ok {
			continue
		}
		seen[r.Protocol] = struct{}{}
		protocols = append(protocols, r.Protocol)
	}
	return protocols
}
