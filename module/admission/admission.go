package admission

import (
	"context"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/module/queue"
)

// LoadReporter is the admission controller's view of the load monitor.
type LoadReporter interface {
	IsUnderPressure(ctx context.Context) bool
}

// AudienceSizer reports how many members a non-private chat has; it is
// backed by the external membership collaborator.
type AudienceSizer interface {
	AudienceSize(ctx context.Context, chatType, targetID string) (int, error)
}

// Request is the cost profile of one outgoing message.
type Request struct {
	ChatType        string
	TargetID        string
	AttachmentCount int
}

// Decision is the routing verdict, evaluated synchronously before any side
// effect.
type Decision struct {
	Immediate bool
	Priority  queue.Priority
}

type Config struct {
	LargeAudience   int // queue High above this
	MediumAudience  int // queue Normal above this
	BulkAttachments int // queue High at or above this
}

func (c *Config) norm() {
	if c.LargeAudience <= 0 {
		c.LargeAudience = 200
	}
	if c.MediumAudience <= 0 {
		c.MediumAudience = 50
	}
	if c.BulkAttachments <= 0 {
		c.BulkAttachments = 3
	}
}

// Controller layers global backpressure over per-request cost heuristics:
// pressure wins over every other signal, large fan-outs and bulk payloads
// are shed onto the retryable queue, and everything small stays on the
// lowest-latency path. Lookup errors fail open toward immediate send.
type Controller struct {
	conf  Config
	load  LoadReporter
	sizer AudienceSizer
}

func NewController(conf Config, load LoadReporter, sizer AudienceSizer) *Controller {
	conf.norm()
	return &Controller{conf: conf, load: load, sizer: sizer}
}

func (c *Controller) Decide(ctx context.Context, req Request) Decision {
	// 1) global backpressure wins over all other signals
	if c.load.IsUnderPressure(ctx) {
		return Decision{Priority: queue.PriorityLow}
	}

	// 2) audience size, for addressed (non-private) chats
	if req.ChatType != global.ChatTypePrivate && req.ChatType != global.ChatTypeSystem {
		size, err := c.sizer.AudienceSize(ctx, req.ChatType, req.TargetID)
		if err != nil {
			// fail open: immediate send at normal cost, never drop
			logger.Warnf("[admission] audience size lookup failed target=%s: %v", req.TargetID, err)
			return Decision{Immediate: true, Priority: queue.PriorityNormal}
		}
		if size > c.conf.LargeAudience {
			return Decision{Priority: queue.PriorityHigh}
		}
		if size > c.conf.MediumAudience {
			return Decision{Priority: queue.PriorityNormal}
		}
	}

	// 3) bulk payloads are isolated from the low-latency path
	if req.AttachmentCount >= c.conf.BulkAttachments {
		return Decision{Priority: queue.PriorityHigh}
	}

	// 4) small, cheap, low-pressure: send on the caller's connection
	return Decision{Immediate: true, Priority: queue.PriorityNormal}
}
