package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultSlackAPI is the Slack Web API base URL
const DefaultSlackAPI = "https://slack.com/api"

var channelIDRe = regexp.MustCompile(`^[CDGS][A-Za-z0-9]{7,}$`)

// ValidChannelID reports whether id looks like a Slack conversation ID
func ValidChannelID(id string) bool {
	return channelIDRe.MatchString(id)
}

// EscapeMarkdown escapes Slack mrkdwn control characters
func EscapeMarkdown(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "~", `\~`).Replace(s)
}

// SlackNotifier sends notifications to Slack, either through an incoming
// webhook or through the Web API with a bot token
type SlackNotifier struct {
	webhookURL string
	token      string
	apiURL     string
	channel    string
	client     *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	TS          string            `json:"ts,omitempty"`
	ThreadTS    string            `json:"thread_ts,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// NewSlackNotifier creates a Slack notifier posting to an incoming webhook
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		apiURL:     DefaultSlackAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewSlackAPINotifier creates a Slack notifier using a bot token. channel is
// used when a notification names none.
func NewSlackAPINotifier(token, channel string) *SlackNotifier {
	s := NewSlackNotifier("")
	s.token = token
	s.channel = channel
	return s
}

// WithAPIURL points the notifier at another Web API base URL
func (s *SlackNotifier) WithAPIURL(url string) *SlackNotifier {
	s.apiURL = strings.TrimRight(url, "/")
	return s
}

// ToJSON converts the message to JSON
func (m *SlackMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func (s *SlackNotifier) message(n Notification) SlackMessage {
	return SlackMessage{
		Text:     n.Title,
		ThreadTS: n.ThreadTS,
		Attachments: []SlackAttachment{
			{
				Color:  SlackColor(n.Type),
				Title:  n.Repo,
				Text:   n.Message,
				Footer: "auto-claude",
			},
		},
	}
}

// Send sends a notification to Slack. Without a webhook or token it does nothing.
func (s *SlackNotifier) Send(n Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	switch {
	case s.token != "":
		channel := n.Channel
		if channel == "" {
			channel = s.channel
		}
		_, err := s.PostMessage(ctx, channel, s.message(n))
		return err
	case s.webhookURL != "":
		return s.postWebhook(ctx, s.message(n))
	default:
		return nil // Disabled
	}
}

// PostMessage posts msg to channel with chat.postMessage and returns the
// message timestamp. Set msg.ThreadTS to reply in a thread.
func (s *SlackNotifier) PostMessage(ctx context.Context, channel string, msg SlackMessage) (string, error) {
	if !ValidChannelID(channel) {
		return "", fmt.Errorf("invalid slack channel id %q", channel)
	}
	msg.Channel = channel
	msg.TS = ""
	resp, err := s.call(ctx, "chat.postMessage", msg)
	if err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage replaces the message at ts with chat.update
func (s *SlackNotifier) UpdateMessage(ctx context.Context, channel, ts string, msg SlackMessage) error {
	if !ValidChannelID(channel) {
		return fmt.Errorf("invalid slack channel id %q", channel)
	}
	msg.Channel = channel
	msg.TS = ts
	msg.ThreadTS = ""
	_, err := s.call(ctx, "chat.update", msg)
	return err
}

func (s *SlackNotifier) call(ctx context.Context, method string, msg SlackMessage) (*slackResponse, error) {
	if s.token == "" {
		return nil, fmt.Errorf("slack %s: no bot token configured", method)
	}
	payload, err := msg.ToJSON()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack %s returned %d", method, resp.StatusCode)
	}
	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("slack %s: decoding response: %w", method, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("slack %s: %s", method, out.Error)
	}
	return &out, nil
}

func (s *SlackNotifier) postWebhook(ctx context.Context, msg SlackMessage) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	return nil
}
