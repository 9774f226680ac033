package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092,"))
	assert.Nil(t, ParseBrokers(""))
}

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	msg, err := EncodeEvent("issue.closed", map[string]interface{}{"issue_id": "I1", "auto": true}, at)
	require.NoError(t, err)
	assert.Equal(t, []byte("I1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "issue.closed", string(msg.Headers[0].Value))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "issue.closed", body["event"])
	assert.Equal(t, "I1", body["issue_id"])
	assert.Equal(t, true, body["auto"])
	assert.Equal(t, "2025-03-10T12:00:00Z", body["at"])

	msg, err = EncodeEvent("issue.deleted", nil, at)
	require.NoError(t, err)
	assert.Nil(t, msg.Key)
}

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer(nil, "topic", nil)
	assert.False(t, p.Enabled())
	p.ProduceIssueEvent(context.Background(), "message.sent", map[string]interface{}{"issue_id": "I1"})
	assert.NoError(t, p.Close())
}
