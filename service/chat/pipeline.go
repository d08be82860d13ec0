package chat

import (
	"context"
	"time"

	"PRelay/global"
	"PRelay/module/queue"
	"PRelay/tools/errs"
)

// Pipeline executes one admitted send: persist, fan out, settle unread and
// offline state. The same path serves immediate sends and queue workers, so
// a queued message is delivered exactly like an immediate one.
type Pipeline struct {
	store      MessageStore
	members    MembershipSource
	bridge     *Bridge
	editWindow time.Duration
	now        func() time.Time
}

func NewPipeline(store MessageStore, members MembershipSource, bridge *Bridge, editWindow time.Duration) *Pipeline {
	if editWindow <= 0 {
		editWindow = 15 * time.Minute
	}
	return &Pipeline{
		store:      store,
		members:    members,
		bridge:     bridge,
		editWindow: editWindow,
		now:        time.Now,
	}
}

// Execute persists and delivers one message. Validation happened at
// admission time, before any side effect.
func (p *Pipeline) Execute(ctx context.Context, msg *queue.QueuedMessage) (*MessageRecord, error) {
	routingKey, audience, err := p.resolveAudience(ctx, msg)
	if err != nil {
		return nil, err
	}

	rec, err := p.store.Persist(ctx, &MessageRecord{
		ClientMsgID: msg.ClientMsgID,
		ChatType:    msg.ChatType,
		TargetID:    msg.TargetID,
		SenderID:    msg.SenderID,
		Text:        msg.Text,
		Attachments: msg.Attachments,
		ReplyTo:     msg.ReplyTo,
	})
	if err != nil {
		return nil, err
	}

	payload := BuildEvent(EvReceiveMessage, msg.ClientMsgID, rec)
	p.bridge.Deliver(ctx, routingKey, payload, DeliverOptions{
		ExcludeConnID: msg.SenderConnID,
		SenderID:      msg.SenderID,
		Audience:      audience,
		ChatType:      msg.ChatType,
		TargetID:      msg.TargetID,
	})
	return rec, nil
}

func (p *Pipeline) resolveAudience(ctx context.Context, msg *queue.QueuedMessage) (string, []string, error) {
	if msg.ChatType == global.ChatTypePrivate {
		if msg.PeerID == "" {
			return "", nil, errs.ErrMalformedTarget
		}
		return global.PrivateKey(msg.SenderID, msg.PeerID), []string{msg.SenderID, msg.PeerID}, nil
	}
	key := global.RoutingKeyFor(msg.ChatType, msg.TargetID)
	if key == "" {
		return "", nil, errs.ErrMalformedTarget
	}
	audience, err := p.members.Members(ctx, msg.ChatType, msg.TargetID)
	if err != nil {
		// deliver to live subscribers even when the roster is unavailable
		return key, nil, nil
	}
	return key, audience, nil
}

// EditResult reports whether the edit was applied or refused. Refusals
// carry the configured window so clients can show the allowed time.
type EditResult struct {
	Applied       bool
	Reason        error
	AllowedWindow time.Duration
	Record        *MessageRecord
}

// Edit applies an in-window edit by the original sender and broadcasts the
// updated record.
func (p *Pipeline) Edit(ctx context.Context, senderID, senderConnID string, req *EditPayload) EditResult {
	rec, err := p.store.Get(ctx, req.ChatType, req.TargetID, req.MessageID)
	if err != nil {
		return EditResult{Reason: err, AllowedWindow: p.editWindow}
	}
	if rec.SenderID != senderID {
		return EditResult{Reason: errs.ErrUnauthorized, AllowedWindow: p.editWindow}
	}
	if p.now().Sub(rec.CreatedAt) > p.editWindow {
		return EditResult{Reason: errs.ErrEditWindowClosed, AllowedWindow: p.editWindow}
	}

	rec.Text = req.Text
	rec.Edited = true
	if err := p.store.Update(ctx, rec); err != nil {
		return EditResult{Reason: err, AllowedWindow: p.editWindow}
	}

	routingKey := global.RoutingKeyFor(req.ChatType, req.TargetID)
	if req.ChatType == global.ChatTypePrivate {
		routingKey = global.PrivateKey(senderID, req.PeerID)
	}
	payload := BuildEvent(EvReceiveEditedMessage, rec.ClientMsgID, rec)
	// edits never touch unread counters, hence no audience
	p.bridge.Deliver(ctx, routingKey, payload, DeliverOptions{
		SenderID: senderID,
		ChatType: req.ChatType,
		TargetID: req.TargetID,
	})
	return EditResult{Applied: true, Record: rec, AllowedWindow: p.editWindow}
}
