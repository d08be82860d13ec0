package chat

import (
	"context"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/module/admission"
	"PRelay/module/load"
	"PRelay/module/presence"
	"PRelay/module/queue"
	"PRelay/module/unread"
	"PRelay/tools/errs"
	"PRelay/tools/security"
)

// Deps are the server's collaborators, wired at boot.
type Deps struct {
	Conf      global.AppConfig
	Dir       presence.Directory
	Engine    *unread.Engine
	Monitor   *load.Monitor
	Queue     *queue.Queue
	Backend   queue.Backend
	Store     MessageStore
	Members   MembershipSource
	Relay     Relay
	Notifier  OfflineNotifier
	Inbox     *OfflineInbox
	Validator TextValidator
	JWT       security.Options
}

// Server is the hub: it owns the connection manager, the dispatch table
// and the send path from admission through delivery.
type Server struct {
	conf      global.AppConfig
	disp      *Dispatcher
	conns     *ConnManager
	fanout    *Fanout
	bridge    *Bridge
	pipeline  *Pipeline
	admission *admission.Controller
	queue     *queue.Queue
	pool      *queue.Pool
	engine    *unread.Engine
	dir       presence.Directory
	members   MembershipSource
	monitor   *load.Monitor
	inbox     *OfflineInbox
	validator TextValidator
	jwt       security.Options
}

func NewServer(d Deps) *Server {
	d.Conf.Norm()

	conns := NewConnManager(d.Conf.Chat.HeartbeatEvery*2, d.Conf.Chat.HeartbeatEvery*4)
	fanout := NewFanout(0, 0)
	bridge := NewBridge(d.Conf.ProcessRole, conns, fanout, d.Dir, d.Engine, d.Relay, d.Notifier)
	pipeline := NewPipeline(d.Store, d.Members, bridge, d.Conf.Chat.EditWindow)

	s := &Server{
		conf:      d.Conf,
		disp:      NewDispatcher(),
		conns:     conns,
		fanout:    fanout,
		bridge:    bridge,
		pipeline:  pipeline,
		queue:     d.Queue,
		engine:    d.Engine,
		dir:       d.Dir,
		members:   d.Members,
		monitor:   d.Monitor,
		inbox:     d.Inbox,
		validator: d.Validator,
		jwt:       d.JWT,
	}
	s.admission = admission.NewController(admission.Config{
		LargeAudience:   d.Conf.Chat.LargeAudience,
		MediumAudience:  d.Conf.Chat.MediumAudience,
		BulkAttachments: d.Conf.Chat.BulkAttachments,
	}, d.Monitor, d.Members)

	if d.Backend != nil {
		s.pool = queue.NewPool(queue.PoolConfig{
			Workers:      d.Conf.Queue.Workers,
			RatePerSec:   d.Conf.Queue.RatePerSec,
			MaxAttempts:  d.Conf.Queue.MaxAttempts,
			PollInterval: d.Conf.Queue.PollInterval,
		}, d.Backend, s.runQueued, s.queuedDone)
	}
	return s
}

func (s *Server) Register(hs ...Handler) { s.disp.Register(hs...) }

func (s *Server) Conf() global.AppConfig          { return s.conf }
func (s *Server) Conns() *ConnManager             { return s.conns }
func (s *Server) Bridge() *Bridge                 { return s.bridge }
func (s *Server) Pipeline() *Pipeline             { return s.pipeline }
func (s *Server) Directory() presence.Directory   { return s.dir }
func (s *Server) Unread() *unread.Engine          { return s.engine }
func (s *Server) Members() MembershipSource       { return s.members }
func (s *Server) Monitor() *load.Monitor          { return s.monitor }
func (s *Server) Queue() *queue.Queue             { return s.queue }
func (s *Server) JWTOptions() security.Options    { return s.jwt }
func (s *Server) Validator() TextValidator        { return s.validator }

// Run starts the background machinery: fan-out workers, queue workers and
// the stale connection sweeper.
func (s *Server) Run(ctx context.Context) {
	s.fanout.Start(ctx)
	if s.pool != nil {
		s.pool.Start(ctx)
	}
	s.conns.StartSweeper(ctx, func(c *Client) {
		s.Disconnect(ctx, c)
	})
}

// HandleFrame is the entry from the socket read loop.
func (s *Server) HandleFrame(f *Frame, c *Client) {
	c.Touch()
	if err := s.disp.Dispatch(&Context{S: s}, f, c); err != nil {
		logger.Warnf("[chat] op=%s conn=%s failed: %v", f.Type, c.ConnID, err)
		s.SendError(c, f, err)
	}
}

func (s *Server) SendEvent(c *Client, event, clientMsgID string, data any) {
	c.Enqueue(BuildEvent(event, clientMsgID, data))
}

// SendToUser pushes an event to every local connection of the user.
func (s *Server) SendToUser(userID string, payload []byte) {
	s.fanout.Broadcast(s.conns.ConnsOfUser(userID), payload)
}

func (s *Server) SendError(c *Client, f *Frame, err error) {
	data := map[string]any{"error": err.Error()}
	var coded errs.CodeError
	if ce, ok := err.(errs.CodeError); ok {
		coded = ce
	}
	if coded.Code != 0 {
		data["code"] = coded.Code
		data["error"] = coded.Msg
	}
	s.SendEvent(c, EvSendMessageError, f.ClientMsgID, data)
}

// AdmitAndSend runs one send end to end: validate, admit, then either the
// inline pipeline or the queue.
func (s *Server) AdmitAndSend(ctx context.Context, c *Client, f *Frame, req *SendPayload) error {
	if s.validator != nil {
		ok, offending, err := s.validator.Validate(ctx, req.Text)
		if err != nil {
			// fail open, screening must never block delivery
			logger.Warnf("[chat] validator error, accepting text: %v", err)
		} else if !ok {
			s.SendEvent(c, EvSendMessageError, f.ClientMsgID, map[string]any{
				"code":      errs.ErrTextRejected.Code,
				"error":     errs.ErrTextRejected.Msg,
				"offending": offending,
			})
			return nil
		}
	}

	msg := &queue.QueuedMessage{
		ClientMsgID:   f.ClientMsgID,
		SenderID:      c.UserID,
		SenderConnID:  c.ConnID,
		OriginProcess: s.conf.ProcessRole,
		ChatType:      req.ChatType,
		TargetID:      req.TargetID,
		PeerID:        req.PeerID,
		Text:          req.Text,
		Attachments:   req.Attachments,
		ReplyTo:       req.ReplyTo,
	}

	decision := s.admission.Decide(ctx, admission.Request{
		ChatType:        req.ChatType,
		TargetID:        req.TargetID,
		AttachmentCount: len(req.Attachments),
	})

	if decision.Immediate {
		rec, err := s.pipeline.Execute(ctx, msg)
		if err != nil {
			return err
		}
		s.SendEvent(c, EvMessageSentSuccessfully, f.ClientMsgID, rec)
		return nil
	}

	msg.Priority = decision.Priority
	jobID, err := s.queue.Enqueue(ctx, msg)
	if err != nil {
		// queue down must not lose the message
		logger.Errorf("[chat] enqueue failed, sending inline: %v", err)
		rec, perr := s.pipeline.Execute(ctx, msg)
		if perr != nil {
			return perr
		}
		s.SendEvent(c, EvMessageSentSuccessfully, f.ClientMsgID, rec)
		return nil
	}
	s.SendEvent(c, EvMessageQueued, f.ClientMsgID, map[string]any{
		"job_id":   jobID,
		"lane":     decision.Priority.Lane(),
		"eta_ms":   s.queue.ETA(ctx, decision.Priority, s.conf.Queue.RatePerSec).Milliseconds(),
	})
	return nil
}

// runQueued is the worker pool runner; it replays the same pipeline an
// immediate send uses.
func (s *Server) runQueued(ctx context.Context, msg *queue.QueuedMessage) error {
	_, err := s.pipeline.Execute(ctx, msg)
	return err
}

// queuedDone reports the terminal outcome back to the sender's live
// connections, correlated by the client idempotency token.
func (s *Server) queuedDone(msg *queue.QueuedMessage, err error) {
	if err != nil {
		payload := BuildEvent(EvSendMessageError, msg.ClientMsgID, map[string]any{
			"code":   errs.ErrRetriesExhausted.Code,
			"error":  errs.ErrRetriesExhausted.Msg,
			"job_id": msg.JobID,
		})
		s.SendToUser(msg.SenderID, payload)
		return
	}
	payload := BuildEvent(EvMessageSentSuccessfully, msg.ClientMsgID, map[string]any{
		"job_id": msg.JobID,
	})
	s.SendToUser(msg.SenderID, payload)
}

// JoinUser subscribes an authenticated connection to all its routing keys,
// marks it online and announces presence. Membership cache misses fall
// through to the membership source and repopulate the cache.
func (s *Server) JoinUser(ctx context.Context, c *Client) {
	keys, ok, err := s.dir.GetMemberships(ctx, c.UserID)
	if err != nil || !ok {
		if err != nil {
			logger.Warnf("[chat] membership cache read failed user=%s: %v", c.UserID, err)
		}
		keys, err = s.members.RoutingKeys(ctx, c.UserID)
		if err != nil {
			logger.Errorf("[chat] membership lookup failed user=%s: %v", c.UserID, err)
			keys = nil
		} else if cerr := s.dir.CacheMemberships(ctx, c.UserID, keys); cerr != nil {
			logger.Warnf("[chat] membership cache write failed user=%s: %v", c.UserID, cerr)
		}
	}

	keys = append(keys, global.SystemChatKey(c.UserID), global.BridgeGroupKey(s.conf.ProcessRole))
	s.conns.Subscribe(c, keys...)

	for _, key := range keys {
		if err := s.dir.MarkOnline(ctx, key, c.UserID); err != nil {
			logger.Warnf("[chat] mark online failed key=%s user=%s: %v", key, c.UserID, err)
		}
	}
	s.announceStatus(ctx, c, keys, "online")
	s.drainInbox(ctx, c)
}

// drainInbox replays events parked while the user was offline, oldest
// first, onto the freshly joined connection.
func (s *Server) drainInbox(ctx context.Context, c *Client) {
	if s.inbox == nil {
		return
	}
	parked, err := s.inbox.Drain(ctx, c.UserID)
	if err != nil {
		logger.Warnf("[chat] inbox drain failed user=%s: %v", c.UserID, err)
		return
	}
	for _, payload := range parked {
		c.Enqueue(payload)
	}
}

// Disconnect tears a connection down: presence entries are dropped only
// when no other connection of the same user remains on the key.
func (s *Server) Disconnect(ctx context.Context, c *Client) {
	keys := s.conns.KeysOf(c.ConnID)
	s.conns.Remove(c.ConnID)
	if c.UserID == "" {
		c.Close()
		return
	}
	var gone []string
	for _, key := range keys {
		if s.conns.UserStillOnKey(c.UserID, key) {
			continue
		}
		if err := s.dir.MarkOffline(ctx, key, c.UserID); err != nil {
			logger.Warnf("[chat] mark offline failed key=%s user=%s: %v", key, c.UserID, err)
		}
		gone = append(gone, key)
	}
	s.announceStatus(ctx, c, gone, "offline")
	c.Close()
}

// announceStatus broadcasts a presence change to the affected chats. The
// per-user system and bridge keys are skipped; nobody else listens there.
func (s *Server) announceStatus(ctx context.Context, c *Client, keys []string, status string) {
	payload := BuildEvent(EvUserStatusChanged, "", map[string]any{
		"user_id": c.UserID,
		"status":  status,
		"at_ms":   time.Now().UnixMilli(),
	})
	systemKey := global.SystemChatKey(c.UserID)
	bridgeKey := global.BridgeGroupKey(s.conf.ProcessRole)
	targets := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == systemKey || key == bridgeKey {
			continue
		}
		targets = append(targets, key)
	}
	s.bridge.DeliverMulti(ctx, targets, payload, DeliverOptions{
		ExcludeConnID: c.ConnID,
		SenderID:      c.UserID,
	})
}

// Heartbeat renews the TTL of every presence entry the connection holds.
func (s *Server) Heartbeat(ctx context.Context, c *Client) {
	c.Touch()
	for _, key := range s.conns.KeysOf(c.ConnID) {
		if err := s.dir.MarkOnline(ctx, key, c.UserID); err != nil {
			logger.Warnf("[chat] heartbeat renew failed key=%s user=%s: %v", key, c.UserID, err)
		}
	}
}
