package subscription

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// MessageQueue is the subset of *azqueue.QueueClient the consumer uses.
type MessageQueue interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueOptions tunes ConsumeQueue.
type QueueOptions struct {
	BatchSize         int32
	VisibilityTimeout int32
	PollInterval      time.Duration
	// MaxDequeueCount drops a message that keeps failing after this many
	// deliveries.
	MaxDequeueCount int64
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.BatchSize <= 0 || o.BatchSize > 32 {
		o.BatchSize = 16
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxDequeueCount <= 0 {
		o.MaxDequeueCount = 5
	}
	return o
}

// ConsumeQueue drains project event envelopes from q until ctx is done.
// Malformed messages are deleted; a message whose emit fails stays on the
// queue until MaxDequeueCount is reached.
func ConsumeQueue(ctx context.Context, logger *log.Logger, q MessageQueue, emitter Emitter, opts QueueOptions) {
	opts = opts.withDefaults()
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := drainOnce(ctx, logger, q, emitter, opts)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("receive project events")
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.PollInterval):
		}
	}
}

// drainOnce handles one batch and returns how many messages it received.
func drainOnce(ctx context.Context, logger *log.Logger, q MessageQueue, emitter Emitter, opts QueueOptions) (int, error) {
	resp, err := q.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &opts.BatchSize,
		VisibilityTimeout: &opts.VisibilityTimeout,
	})
	if err != nil {
		return 0, err
	}
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		fields := log.Fields{"message": *msg.MessageID}
		var text string
		if msg.MessageText != nil {
			text = *msg.MessageText
		}

		projectID, ev, err := DecodeEnvelope([]byte(text))
		if err != nil {
			logger.WithError(err).WithFields(fields).Error("discarding malformed project event")
			deleteMessage(ctx, logger, q, msg)
			continue
		}
		if _, err := emitter.EmitToProject(ctx, projectID, ev); err != nil {
			if msg.DequeueCount != nil && *msg.DequeueCount < opts.MaxDequeueCount {
				logger.WithError(err).WithFields(fields).Warn("emit failed; message will be retried")
				continue
			}
			logger.WithError(err).WithFields(fields).Error("emit failed; dropping message")
		}
		deleteMessage(ctx, logger, q, msg)
	}
	return len(resp.Messages), nil
}

func deleteMessage(ctx context.Context, logger *log.Logger, q MessageQueue, msg *azqueue.DequeuedMessage) {
	if _, err := q.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		logger.WithError(err).WithField("message", *msg.MessageID).Warn("delete message")
	}
}
