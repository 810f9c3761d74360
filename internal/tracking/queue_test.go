package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue is an in-memory stand-in for SQS.
type fakeQueue struct {
	mu      sync.Mutex
	bodies  []string
	deleted []string
	sendErr error
}

func (q *fakeQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return nil, q.sendErr
	}
	q.bodies = append(q.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (q *fakeQueue) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{}
	for i, b := range q.bodies {
		out.Messages = append(out.Messages, types.Message{
			Body:          aws.String(b),
			ReceiptHandle: aws.String(string(rune('a' + i))),
		})
	}
	q.bodies = nil
	return out, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPublisherAndConsumerRoundTrip(t *testing.T) {
	q := &fakeQueue{}
	pub := NewPublisher(q, "https://sqs.test/queue")
	ctx := context.Background()

	require.NoError(t, pub.Append(ctx, domain.EmailEvent{ContactID: "c1", CampaignID: "camp", Type: domain.EventOpen}))
	require.NoError(t, pub.Append(ctx, domain.EmailEvent{ContactID: "c1", CampaignID: "camp", Type: domain.EventClick}))
	pub.Close()
	require.Len(t, q.bodies, 2)

	var published domain.EmailEvent
	require.NoError(t, json.Unmarshal([]byte(q.bodies[0]), &published))
	assert.NotEmpty(t, published.ID, "publisher assigns ids at the edge")

	store := eventlog.NewMemoryStore()
	n, err := NewConsumer(q, "https://sqs.test/queue", store).PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, q.deleted, 2)

	counts, _ := store.CountByType(ctx, "camp")
	assert.Equal(t, 1, counts[domain.EventOpen])
	assert.Equal(t, 1, counts[domain.EventClick])
}

func TestPublisherRejectsInvalidEvents(t *testing.T) {
	pub := NewPublisher(&fakeQueue{}, "q")
	assert.ErrorIs(t, pub.Append(context.Background(), domain.EmailEvent{Type: domain.EventOpen}), eventlog.ErrInvalidEvent)
}

func TestPublisherSendFailureIsNotReturned(t *testing.T) {
	q := &fakeQueue{sendErr: errors.New("throttled")}
	pub := NewPublisher(q, "q")
	assert.NoError(t, pub.Append(context.Background(), domain.EmailEvent{ContactID: "c", Type: domain.EventOpen}))
	pub.Close()
}

type failingStore struct{ eventlog.Recorder }

func (failingStore) Append(context.Context, domain.EmailEvent) error { return errors.New("db down") }

func TestConsumerHandlesBadAndFailedMessages(t *testing.T) {
	q := &fakeQueue{bodies: []string{"not json", `{"contact_id":"c1","type":"open"}`}}
	n, err := NewConsumer(q, "q", failingStore{}).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	// Only the undecodable message is deleted; the other is left for redelivery.
	assert.Equal(t, []string{"a"}, q.deleted)
}

func TestApplyUnsubscribes(t *testing.T) {
	store := eventlog.NewMemoryStore()
	contacts := &fakeContacts{unsubscribed: map[string]time.Time{}}
	rec := ApplyUnsubscribes(store, contacts)
	ctx := context.Background()

	require.NoError(t, rec.Append(ctx, domain.EmailEvent{ContactID: "c1", Type: domain.EventOpen}))
	assert.Empty(t, contacts.unsubscribed)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Append(ctx, domain.EmailEvent{ContactID: "c1", Type: domain.EventUnsubscribe, CreatedAt: at}))
	assert.Equal(t, at, contacts.unsubscribed["c1"])
	assert.Equal(t, 2, store.Len())

	// Invalid events are neither stored nor applied.
	err := rec.Append(ctx, domain.EmailEvent{Type: domain.EventUnsubscribe})
	assert.ErrorIs(t, err, eventlog.ErrInvalidEvent)

	assert.Same(t, store, ApplyUnsubscribes(store, nil))
}
