package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/MrEthical07/accountguard"
)

// PushMessage mimics the body Google Pub/Sub sends to push subscriptions.
type PushMessage struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// LocalHTTPNotifier posts push-formatted messages to a local email worker.
type LocalHTTPNotifier struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewLocalHTTPNotifier creates a notifier for development setups.
func NewLocalHTTPNotifier(endpoint string, logger *slog.Logger) *LocalHTTPNotifier {
	return &LocalHTTPNotifier{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// SendRecoveryEmail posts notice to the endpoint. Non-2xx responses are errors.
func (p *LocalHTTPNotifier) SendRecoveryEmail(ctx context.Context, notice accountguard.RecoveryNotice) error {
	event := eventFromNotice(uuid.NewString(), notice)
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	var push PushMessage
	push.Subscription = "projects/local/subscriptions/recovery-email-sub"
	push.Message.Data = base64.StdEncoding.EncodeToString(data)
	push.Message.Attributes = attributes(event)
	push.Message.MessageID = event.EventID
	push.Message.PublishTime = p.now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(push)
	if err != nil {
		return errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if event.RequestID != "" {
		req.Header.Set("X-Request-Id", event.RequestID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("worker returned non-success status: %d", resp.StatusCode)
	}

	p.logger.Debug("[LocalPubSub] recovery email event delivered",
		slog.String("event_id", event.EventID),
		slog.String("account_id", event.AccountID),
	)
	return nil
}

// Close is a no-op.
func (p *LocalHTTPNotifier) Close() error {
	return nil
}
