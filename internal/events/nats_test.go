package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRelationToggledEventJSON(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := json.Marshal(RelationToggledEvent{
		ActorID: "alice", TargetID: "p1", Kind: models.KindRepost, Active: true, Count: 7, Timestamp: at,
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"actorId":"alice","targetId":"p1","kind":"repost","active":true,"count":7,"timestamp":"2026-01-02T03:04:05Z"}`,
		string(data))
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1", Name: "test"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNATSPublisherDelivers(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	pub, err := NewNATSPublisher(NATSConfig{URL: url, Name: "test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(RelationToggled, msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	event := RelationToggledEvent{ActorID: "alice", TargetID: "p1", Kind: models.KindLike, Active: true, Count: 1, Timestamp: time.Now().UTC()}
	require.NoError(t, pub.PublishRelationToggled(context.Background(), event))

	select {
	case msg := <-msgs:
		var got RelationToggledEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, event.TargetID, got.TargetID)
		assert.True(t, got.Active)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
