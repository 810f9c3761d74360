package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// SQSReceiver is the subset of the SQS client the consumer uses.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer drains the tracking queue into the event log. A message is
// deleted once appended. Undecodable or invalid messages are deleted and
// logged; store failures are left for SQS to redeliver.
type Consumer struct {
	client   SQSReceiver
	queueURL string
	events   eventlog.Recorder
	waitTime int32
	backoff  time.Duration
	done     chan struct{}
}

// NewConsumer creates a Consumer.
func NewConsumer(client SQSReceiver, queueURL string, events eventlog.Recorder) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		events:   events,
		waitTime: 20,
		backoff:  5 * time.Second,
		done:     make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled. It returns a channel
// closed when the loop exits.
func (c *Consumer) Start(ctx context.Context) <-chan struct{} {
	logger.Info("tracking consumer started", "queue", c.queueURL)
	go func() {
		defer close(c.done)
		c.poll(ctx)
	}()
	return c.done
}

func (c *Consumer) poll(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("tracking consumer: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
		}
	}
}

// PollOnce receives one batch and processes it, returning how many events
// were appended.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitTime,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, msg := range out.Messages {
		if c.handle(ctx, msg) {
			n++
		}
	}
	return n, nil
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) bool {
	var evt domain.EmailEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
		logger.Warn("tracking consumer: dropping bad message", "message_id", aws.ToString(msg.MessageId), "error", err)
		c.delete(ctx, msg.ReceiptHandle)
		return false
	}
	if err := c.events.Append(ctx, evt); err != nil {
		if errors.Is(err, eventlog.ErrInvalidEvent) {
			logger.Warn("tracking consumer: dropping invalid event", "event_id", evt.ID, "error", err)
			c.delete(ctx, msg.ReceiptHandle)
			return false
		}
		logger.Error("tracking consumer: append failed", "event_id", evt.ID, "type", string(evt.Type), "error", err)
		return false
	}
	c.delete(ctx, msg.ReceiptHandle)
	return true
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		logger.Warn("tracking consumer: delete failed", "error", err)
	}
}

// unsubscribeRecorder applies UNSUBSCRIBE events to the contact store
// after recording them.
type unsubscribeRecorder struct {
	eventlog.Recorder
	contacts ContactUnsubscriber
}

// ApplyUnsubscribes wraps events so that every recorded UNSUBSCRIBE also
// opts the contact out. The queue consumer uses it when the public edge
// only publishes events and cannot reach the contact store itself.
func ApplyUnsubscribes(events eventlog.Recorder, contacts ContactUnsubscriber) eventlog.Recorder {
	if contacts == nil {
		return events
	}
	return &unsubscribeRecorder{Recorder: events, contacts: contacts}
}

func (u *unsubscribeRecorder) Append(ctx context.Context, evt domain.EmailEvent) error {
	if err := u.Recorder.Append(ctx, evt); err != nil {
		return err
	}
	if evt.Type != domain.EventUnsubscribe {
		return nil
	}
	at := evt.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return u.contacts.Unsubscribe(ctx, evt.ContactID, at)
}
