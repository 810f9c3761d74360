package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// SQSSender is the subset of the SQS client the publisher uses.
type SQSSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher is an eventlog.Recorder that forwards events to an SQS
// queue instead of writing them, so the public tracking edge needs no
// database. Sends happen in the background; Close waits for them.
type Publisher struct {
	client   SQSSender
	queueURL string
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewPublisher creates a Publisher for queueURL.
func NewPublisher(client SQSSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

// Append implements eventlog.Recorder. Only validation and encoding
// errors are returned; delivery failures are logged.
func (p *Publisher) Append(_ context.Context, evt domain.EmailEvent) error {
	if err := eventlog.Prepare(&evt, time.Now()); err != nil {
		return err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal tracking event: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("tracking: publish to SQS failed", "event_id", evt.ID, "type", string(evt.Type), "error", err)
		}
	}()
	return nil
}

// Close waits for in-flight sends.
func (p *Publisher) Close() {
	p.wg.Wait()
}
