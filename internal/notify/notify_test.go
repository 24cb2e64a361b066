package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	subject string
	payload any
	err     error
}

func (p *capturePublisher) PublishJSON(subject string, v any) error {
	p.subject = subject
	p.payload = v
	return p.err
}

func TestNATSNotifier(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNATSNotifier(pub, "c1", "user:me")

	require.NoError(t, n.Notify(context.Background(), "Jane Doe", "proofs are up"))
	assert.Equal(t, "chatsync.notify.user:me", pub.subject)

	got, ok := pub.payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "Jane Doe", got.SenderName)
	assert.Equal(t, "proofs are up", got.Content)
	assert.False(t, got.At.IsZero())
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	failing := &capturePublisher{err: errors.New("nats down")}
	ok := &capturePublisher{}

	m := Multi{
		NewNATSNotifier(failing, "c1", "user:me"),
		NewLogNotifier("c1"),
		NewNATSNotifier(ok, "c1", "user:me"),
	}

	err := m.Notify(context.Background(), "Jane", "hi")
	assert.ErrorContains(t, err, "nats down")
	assert.NotNil(t, ok.payload)
}
