package queue

import "encoding/json"

// Priority selects the lane a queued send lands in. Workers drain lanes
// highest-first; starvation of low lanes under sustained high-priority
// load is an accepted tradeoff.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

const (
	LaneCritical = "critical"
	LaneHigh     = "high"
	LaneDefault  = "default"
	LaneLow      = "low"
)

// DrainOrder is the order workers poll lanes.
var DrainOrder = []string{LaneCritical, LaneHigh, LaneDefault, LaneLow}

func (p Priority) Lane() string {
	switch p {
	case PriorityCritical:
		return LaneCritical
	case PriorityHigh:
		return LaneHigh
	case PriorityNormal:
		return LaneDefault
	default:
		return LaneLow
	}
}

func (p Priority) String() string { return p.Lane() }

// Job states.
const (
	StateQueued  = "queued"
	StateDelayed = "delayed"
	StateActive  = "active"
	StateSent    = "sent"
	StateFailed  = "failed"
)

// QueuedMessage is an admitted send deferred to the worker pool. The
// ClientMsgID is the client-supplied idempotency token; the eventual result
// is correlated back to the originating client through it.
type QueuedMessage struct {
	JobID    string   `json:"job_id"`
	Priority Priority `json:"priority"`
	QueuedAt int64    `json:"queued_at_ms"`
	Attempts int      `json:"attempts"`

	ClientMsgID   string   `json:"client_msg_id"`
	SenderID      string   `json:"sender_id"`
	SenderConnID  string   `json:"sender_conn_id,omitempty"`
	OriginProcess string   `json:"origin_process"`
	ChatType      string   `json:"chat_type"`
	TargetID      string   `json:"target_id"`
	PeerID        string   `json:"peer_id,omitempty"` // private chats
	Text          string   `json:"text"`
	Attachments   []string `json:"attachments,omitempty"`
	ReplyTo       string   `json:"reply_to,omitempty"`
}

func (m *QueuedMessage) Marshal() []byte {
	b, _ := json.Marshal(m)
	return b
}

func UnmarshalJob(raw []byte) (*QueuedMessage, error) {
	var m QueuedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// JobStatus is the queryable lifecycle record of a job.
type JobStatus struct {
	State       string `json:"state"`
	Lane        string `json:"lane"`
	CreatedAtMS int64  `json:"created_at_ms"`
	Error       string `json:"error,omitempty"`
}
