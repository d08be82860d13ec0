package admission

import (
	"context"
	"errors"
	"testing"

	"PRelay/global"
	"PRelay/module/queue"

	"github.com/stretchr/testify/assert"
)

type fakeLoad struct{ pressure bool }

func (f fakeLoad) IsUnderPressure(context.Context) bool { return f.pressure }

type fakeSizer struct {
	size int
	err  error
}

func (f fakeSizer) AudienceSize(context.Context, string, string) (int, error) {
	return f.size, f.err
}

func decide(pressure bool, size int, sizeErr error, attachments int, chatType string) Decision {
	c := NewController(Config{}, fakeLoad{pressure: pressure}, fakeSizer{size: size, err: sizeErr})
	return c.Decide(context.Background(), Request{
		ChatType:        chatType,
		TargetID:        "g1",
		AttachmentCount: attachments,
	})
}

func TestPressureAlwaysRoutesLow(t *testing.T) {
	// pressure wins regardless of audience and attachments
	d := decide(true, 10, nil, 0, global.ChatTypeClassGroup)
	assert.False(t, d.Immediate)
	assert.Equal(t, queue.PriorityLow, d.Priority)

	d = decide(true, 500, nil, 5, global.ChatTypeClassGroup)
	assert.False(t, d.Immediate)
	assert.Equal(t, queue.PriorityLow, d.Priority)
}

func TestLargeAudienceRoutesHigh(t *testing.T) {
	// audience 250, no pressure, 1 attachment
	d := decide(false, 250, nil, 1, global.ChatTypeClassGroup)
	assert.False(t, d.Immediate)
	assert.Equal(t, queue.PriorityHigh, d.Priority)
}

func TestMediumAudienceRoutesNormalQueue(t *testing.T) {
	d := decide(false, 120, nil, 0, global.ChatTypeChannelGroup)
	assert.False(t, d.Immediate)
	assert.Equal(t, queue.PriorityNormal, d.Priority)
}

func TestSmallAudienceSendsImmediately(t *testing.T) {
	d := decide(false, 30, nil, 0, global.ChatTypeClassGroup)
	assert.True(t, d.Immediate)
}

func TestBulkAttachmentsRouteHigh(t *testing.T) {
	d := decide(false, 10, nil, 3, global.ChatTypeClassGroup)
	assert.False(t, d.Immediate)
	assert.Equal(t, queue.PriorityHigh, d.Priority)

	d = decide(false, 10, nil, 2, global.ChatTypeClassGroup)
	assert.True(t, d.Immediate)
}

func TestPrivateChatSkipsAudienceLookup(t *testing.T) {
	// sizer would say "huge", but private chats never consult it
	d := decide(false, 100000, nil, 0, global.ChatTypePrivate)
	assert.True(t, d.Immediate)
}

func TestSizeLookupErrorFailsOpen(t *testing.T) {
	d := decide(false, 0, errors.New("membership service down"), 0, global.ChatTypeClassGroup)
	assert.True(t, d.Immediate)
	assert.Equal(t, queue.PriorityNormal, d.Priority)
}

func TestDeterministicGivenInputs(t *testing.T) {
	for i := 0; i < 5; i++ {
		d := decide(true, 250, nil, 4, global.ChatTypeClassGroup)
		assert.Equal(t, queue.PriorityLow, d.Priority)
	}
}
