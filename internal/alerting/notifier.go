package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

// Level classifies the severity of an operational alert.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARN"
	LevelError   Level = "ERROR"
)

// Slack truncates messages beyond this, so longer alerts are segmented.
const slackMessageLengthLimit = 4000

// Notifier delivers operational alerts. Delivery is best effort: callers are
// expected to log and swallow errors rather than propagate them.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string) error
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	appName    string
	channel    string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs a Slack webhook notifier.
func NewSlackNotifier(webhookURL, appName, channel string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SlackNotifier{
		webhookURL: webhookURL,
		appName:    appName,
		channel:    channel,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts the message, prefixed with app, channel, and level, split
// into segments that fit Slack's message length limit.
func (n *SlackNotifier) Notify(ctx context.Context, level Level, message string) error {
	text := fmt.Sprintf("*%s@[%s]:* *[%s]* %s", n.appName, n.channel, level, message)

	for start := 0; start < len(text); start += slackMessageLengthLimit {
		end := start + slackMessageLengthLimit
		if end > len(text) {
			end = len(text)
		}
		if err := n.postSegment(ctx, text[start:end]); err != nil {
			return err
		}
	}

	n.logger.Debug().Str("level", string(level)).Msg("alert delivered")
	return nil
}

func (n *SlackNotifier) postSegment(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("slack webhook status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 2), ctx)
	if err := backoff.Retry(send, policy); err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
