package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type fakePublisher struct {
	subject string
	data    []byte
	msgID   string
	err     error
}

func (f *fakePublisher) PublishAcked(_ context.Context, subject string, data []byte, msgID string) error {
	f.subject, f.data, f.msgID = subject, data, msgID
	return f.err
}

func TestSubjectEvent(t *testing.T) {
	assert.Equal(t, "switchboard.events.conflict.ConflictEscalated", SubjectEvent("conflict", "ConflictEscalated"))
	assert.Equal(t, "switchboard.events.a_b._", SubjectEvent("a.b", ""))
	assert.Equal(t, "switchboard.events.x_y.z__", SubjectEvent("x*y", "z>."))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "lily", SubjectToken(SubjectAgentStoppedFor("lily"), 2))
	id := uuid.NewString()
	assert.Equal(t, id, SubjectToken(SubjectTaskCompletedFor(id), 2))
	assert.Equal(t, "", SubjectToken("a.b", 5))
}

func TestEventSubscriberPublishesWithMsgID(t *testing.T) {
	pub := &fakePublisher{}
	sub := NewEventSubscriber(pub)
	evt := store.DomainEvent{ID: uuid.New(), EventType: "TaskCompleted", AggregateType: "task", AggregateID: "t-1", Version: 2}

	resp, err := sub.Deliver(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "switchboard.events.task.TaskCompleted", resp["subject"])
	assert.Equal(t, evt.ID.String(), pub.msgID)

	var decoded store.DomainEvent
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, 2, decoded.Version)
}

func TestEventSubscriberFailure(t *testing.T) {
	sub := NewEventSubscriber(&fakePublisher{err: errors.New("no responders")})
	_, err := sub.Deliver(context.Background(), store.DomainEvent{ID: uuid.New(), EventType: "E", AggregateType: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
}
