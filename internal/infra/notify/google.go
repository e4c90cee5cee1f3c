package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
	pubsubpb "cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/MrEthical07/accountguard"
)

// PubSubNotifier publishes recovery notices to a Google Pub/Sub topic.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	logger    *slog.Logger
}

// NewPubSubNotifier connects to projectID and verifies that topicID exists.
func NewPubSubNotifier(ctx context.Context, projectID, topicID string, logger *slog.Logger) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	topicPath := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	if _, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicPath}); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to get topic %s", topicID)
	}

	logger.Info("Google Pub/Sub notifier initialized",
		slog.String("project_id", projectID),
		slog.String("topic_id", topicID),
	)

	return &PubSubNotifier{
		client:    client,
		publisher: client.Publisher(topicID),
		logger:    logger,
	}, nil
}

// SendRecoveryEmail publishes notice and waits for the server ack.
func (p *PubSubNotifier) SendRecoveryEmail(ctx context.Context, notice accountguard.RecoveryNotice) error {
	event := eventFromNotice(uuid.NewString(), notice)
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes(event),
	})
	serverID, err := result.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "publish recovery email event")
	}

	p.logger.Debug("[GooglePubSub] recovery email event published",
		slog.String("event_id", event.EventID),
		slog.String("account_id", event.AccountID),
		slog.String("server_id", serverID),
	)
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubNotifier) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		return errors.WithStack(p.client.Close())
	}
	return nil
}
