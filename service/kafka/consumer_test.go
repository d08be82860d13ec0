package kafka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
)

func TestOriginMatches(t *testing.T) {
	hdrs := []*sarama.RecordHeader{
		{Key: []byte("trace-id"), Value: []byte("abc")},
		{Key: []byte(originHeader), Value: []byte("web")},
	}

	assert.True(t, originMatches(hdrs, "web"))
	assert.False(t, originMatches(hdrs, "mobile"))
	assert.False(t, originMatches(hdrs, ""), "empty skip origin never matches")
	assert.False(t, originMatches(nil, "web"))
}
