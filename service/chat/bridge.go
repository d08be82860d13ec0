package chat

import (
	"context"
	"encoding/json"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/module/presence"
	"PRelay/module/unread"
	"PRelay/tools/safe"
)

// Relay mirrors events to the companion front-end process.
type Relay interface {
	Publish(ctx context.Context, env *RelayEnvelope) error
}

// OfflineNotifier pushes a notification for users with no live connection.
type OfflineNotifier interface {
	Notify(ctx context.Context, userID string, payload []byte) error
}

// RelayEnvelope is the wire form of one mirrored event. Origin carries the
// producing process role so the consumer can drop its own echoes.
type RelayEnvelope struct {
	Origin     string          `json:"origin"`
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
}

// DeliverOptions shape one delivery.
type DeliverOptions struct {
	// ExcludeConnID keeps the event off the originating connection.
	ExcludeConnID string
	// FromCompanion marks events that arrived over the relay. They are
	// delivered locally only: never re-published and never counted, the
	// origin process already did both.
	FromCompanion bool
	// SenderID is exempt from unread counting and offline notification.
	SenderID string
	// Audience lists the users the event concerns. Empty audience skips
	// the unread and offline passes (presence-style events).
	Audience []string
	ChatType string
	TargetID string
}

// Bridge owns delivery of one event payload: local fan-out over the
// connection manager, mirroring to the companion process, unread counting
// and offline notification for the audience.
type Bridge struct {
	processRole string
	conns       *ConnManager
	fanout      *Fanout
	dir         presence.Directory
	engine      *unread.Engine
	relay       Relay
	notifier    OfflineNotifier
}

func NewBridge(processRole string, conns *ConnManager, fanout *Fanout, dir presence.Directory, engine *unread.Engine, relay Relay, notifier OfflineNotifier) *Bridge {
	return &Bridge{
		processRole: processRole,
		conns:       conns,
		fanout:      fanout,
		dir:         dir,
		engine:      engine,
		relay:       relay,
		notifier:    notifier,
	}
}

// Deliver pushes payload to every local subscriber of routingKey, mirrors
// it to the companion bridge group, and settles unread/offline bookkeeping
// for the audience. Per-target failures are logged, never propagated; one
// dead leg must not abort the rest of the fan-out.
func (b *Bridge) Deliver(ctx context.Context, routingKey string, payload []byte, opts DeliverOptions) {
	b.fanout.Broadcast(b.conns.ConnsOnKey(routingKey, opts.ExcludeConnID), payload)

	if opts.FromCompanion {
		return
	}

	if b.relay != nil {
		env := &RelayEnvelope{Origin: b.processRole, RoutingKey: routingKey, Payload: payload}
		if err := b.relay.Publish(ctx, env); err != nil {
			logger.Errorf("[bridge] relay publish failed key=%s: %v", routingKey, err)
		}
	}

	if len(opts.Audience) > 0 {
		b.settleAudience(ctx, payload, opts)
	}
}

// DeliverMulti fans one payload out to several routing keys. Each target is
// fire-and-forget; failures surface in logs only.
func (b *Bridge) DeliverMulti(ctx context.Context, routingKeys []string, payload []byte, opts DeliverOptions) {
	for _, key := range routingKeys {
		k := key
		safe.Go(func() {
			b.Deliver(ctx, k, payload, opts)
		})
	}
}

// settleAudience increments unread counters for every recipient and pushes
// an offline notification to members with no live presence entry.
func (b *Bridge) settleAudience(ctx context.Context, payload []byte, opts DeliverOptions) {
	var online map[string]struct{}
	routingKey := b.audienceKey(opts)
	if routingKey != "" {
		var err error
		online, err = b.dir.ListOnline(ctx, routingKey)
		if err != nil {
			// treat everyone as offline rather than losing notifications
			logger.Warnf("[bridge] presence lookup failed key=%s: %v", routingKey, err)
			online = map[string]struct{}{}
		}
	}

	for _, member := range opts.Audience {
		if member == opts.SenderID {
			continue
		}
		k := unread.Key{UserID: member, TargetID: opts.TargetID, ChatType: opts.ChatType}
		count, err := b.engine.Increment(ctx, k)
		if err != nil {
			logger.Warnf("[bridge] unread increment failed user=%s target=%s: %v", member, opts.TargetID, err)
		} else {
			b.pushUnreadCount(member, opts, count)
		}
		if _, ok := online[member]; !ok && b.notifier != nil {
			m := member
			safe.Go(func() {
				if err := b.notifier.Notify(ctx, m, payload); err != nil {
					logger.Warnf("[bridge] offline notify failed user=%s: %v", m, err)
				}
			})
		}
	}
}

func (b *Bridge) audienceKey(opts DeliverOptions) string {
	if opts.ChatType == global.ChatTypePrivate {
		if len(opts.Audience) == 2 {
			return global.PrivateKey(opts.Audience[0], opts.Audience[1])
		}
		return ""
	}
	return global.RoutingKeyFor(opts.ChatType, opts.TargetID)
}

// pushUnreadCount nudges the recipient's own connections, on both
// processes, with the fresh counter value.
func (b *Bridge) pushUnreadCount(userID string, opts DeliverOptions, count int64) {
	ev := BuildEvent(EvUpdateUnreadCount, "", map[string]any{
		"chat_type": opts.ChatType,
		"target_id": opts.TargetID,
		"count":     count,
	})
	key := global.SystemChatKey(userID)
	b.fanout.Broadcast(b.conns.ConnsOnKey(key, ""), ev)
	if b.relay != nil {
		env := &RelayEnvelope{Origin: b.processRole, RoutingKey: key, Payload: ev}
		if err := b.relay.Publish(context.Background(), env); err != nil {
			logger.Warnf("[bridge] unread mirror failed user=%s: %v", userID, err)
		}
	}
}

// HandleRelay consumes one mirrored event from the companion process.
// Envelopes stamped with our own origin are echoes of events we already
// delivered locally; they are dropped.
func (b *Bridge) HandleRelay(ctx context.Context, raw []byte) error {
	env := &RelayEnvelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return err
	}
	if env.Origin == b.processRole {
		return nil
	}
	b.Deliver(ctx, env.RoutingKey, env.Payload, DeliverOptions{FromCompanion: true})
	return nil
}
