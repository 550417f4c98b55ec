package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SlackNotifier posts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the colored batch summary
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField is one short key/value cell
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// SlackColor returns the attachment color for a level
func SlackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// Message builds the payload for n
func (s *SlackNotifier) Message(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Level),
		Text:   n.Message,
		Footer: "porkchop",
		Ts:     s.now().Unix(),
	}
	if n.BatchID != "" {
		att.Title = "batch " + n.BatchID
	}
	if c := n.Counts; c != nil {
		att.Fields = []SlackField{
			{Title: "Succeeded", Value: strconv.Itoa(c.Succeeded), Short: true},
			{Title: "Failed", Value: strconv.Itoa(c.Failed), Short: true},
			{Title: "Issues found", Value: strconv.Itoa(c.Issues), Short: true},
		}
	}
	if len(n.FailedPrompts) > 0 {
		att.Fields = append(att.Fields, SlackField{
			Title: "Failed prompts",
			Value: strings.Join(n.FailedPrompts, "\n"),
		})
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts n to the webhook. An empty webhook URL disables the notifier.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(s.Message(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
