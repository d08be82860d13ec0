package chat

import (
	"context"

	redis2 "PRelay/service/storage/redis"
	"PRelay/tools/errs"
)

const defaultInboxCap = 100

func inboxKey(userID string) string { return "offline:inbox:" + userID }

// OfflineInbox parks events for users with no live connection, keeping a
// rolling window of the most recent entries per user. Drained on the next
// connect.
type OfflineInbox struct {
	cap int64
}

func NewOfflineInbox(capacity int64) *OfflineInbox {
	if capacity <= 0 {
		capacity = defaultInboxCap
	}
	return &OfflineInbox{cap: capacity}
}

// Notify appends the payload and trims the window, oldest entries first
// out.
func (i *OfflineInbox) Notify(ctx context.Context, userID string, payload []byte) error {
	pipe := redis2.GetRedis().TxPipeline()
	pipe.LPush(ctx, inboxKey(userID), payload)
	pipe.LTrim(ctx, inboxKey(userID), 0, i.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrFastStoreDown.WithDetail(err.Error())
	}
	return nil
}

// Drain returns the parked events oldest first and clears the inbox.
func (i *OfflineInbox) Drain(ctx context.Context, userID string) ([][]byte, error) {
	rdb := redis2.GetRedis()
	raw, err := rdb.LRange(ctx, inboxKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errs.ErrFastStoreDown.WithDetail(err.Error())
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := rdb.Del(ctx, inboxKey(userID)).Err(); err != nil {
		return nil, errs.ErrFastStoreDown.WithDetail(err.Error())
	}
	out := make([][]byte, 0, len(raw))
	for idx := len(raw) - 1; idx >= 0; idx-- {
		out = append(out, []byte(raw[idx]))
	}
	return out, nil
}

// MultiNotifier fans one notification out to several sinks; the first
// failure wins but every sink is attempted.
type MultiNotifier []OfflineNotifier

func (m MultiNotifier) Notify(ctx context.Context, userID string, payload []byte) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, userID, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
