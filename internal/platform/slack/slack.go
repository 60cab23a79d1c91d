// Package slack implements the Slack platform: Events API and interactivity
// webhooks in, Block Kit direct messages out.
package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/platform"
)

// Name is the channel name of this platform.
const Name = "slack"

// ProviderOpts configures a Provider.
type ProviderOpts struct {
	SigningSecret string // empty runs unverified
}

// Provider is the inbound side of Slack.
type Provider struct {
	signingSecret string
}

// NewProvider returns a Provider.
func NewProvider(opts ProviderOpts) *Provider {
	return &Provider{signingSecret: opts.SigningSecret}
}

// Name implements platform.Provider.
func (p *Provider) Name() string { return Name }

// Verify checks X-Slack-Signature and X-Slack-Request-Timestamp with the
// app's signing secret. Stale timestamps are rejected.
func (p *Provider) Verify(header http.Header, body []byte) error {
	if p.signingSecret == "" {
		return platform.ErrNoSecret
	}
	sv, err := slackapi.NewSecretsVerifier(header, p.signingSecret)
	if err != nil {
		return fmt.Errorf("slack: %w: %v", platform.ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("slack: verify: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("slack: %w: %v", platform.ErrBadSignature, err)
	}
	return nil
}

// Parse implements platform.Provider. Interactivity requests arrive form
// encoded with a payload field; everything else is an Events API envelope.
func (p *Provider) Parse(header http.Header, body []byte) (platform.Batch, error) {
	if strings.HasPrefix(header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return parseInteraction(body)
	}
	return parseEvent(body)
}

func parseEvent(body []byte) (platform.Batch, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return platform.Batch{}, fmt.Errorf("slack: parse event: %w", err)
	}

	switch event.Type {
	case slackevents.URLVerification:
		uv, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			return platform.Batch{}, fmt.Errorf("slack: parse event: malformed url_verification")
		}
		return platform.Batch{Challenge: uv.Challenge}, nil

	case slackevents.CallbackEvent:
		cb, _ := event.Data.(*slackevents.EventsAPICallbackEvent)
		msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || cb == nil {
			return platform.Batch{Dropped: 1}, nil
		}
		// Bot messages (our own replies included), edits and deletes, and
		// anything outside a direct message.
		if msg.BotID != "" || msg.SubType != "" || msg.User == "" || msg.ChannelType != "im" {
			return platform.Batch{Dropped: 1}, nil
		}
		return platform.Batch{Events: []platform.Inbound{{
			EventID:   cb.EventID,
			SenderID:  msg.User,
			Event:     conversation.TextMessage{Text: msg.Text},
			Timestamp: parseTimestamp(msg.TimeStamp),
		}}}, nil
	}

	log.Printf("slack: dropping unsupported event type %q", event.Type)
	return platform.Batch{Dropped: 1}, nil
}

func parseInteraction(body []byte) (platform.Batch, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return platform.Batch{}, fmt.Errorf("slack: parse interaction: %w", err)
	}
	raw := form.Get("payload")
	if raw == "" {
		return platform.Batch{}, errors.New("slack: parse interaction: missing payload")
	}
	var cb slackapi.InteractionCallback
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return platform.Batch{}, fmt.Errorf("slack: parse interaction: %w", err)
	}
	if cb.Type != slackapi.InteractionTypeBlockActions || cb.User.ID == "" {
		return platform.Batch{Dropped: 1}, nil
	}

	var b platform.Batch
	for _, a := range cb.ActionCallback.BlockActions {
		if a == nil || a.Value == "" {
			b.Dropped++
			continue
		}
		b.Events = append(b.Events, platform.Inbound{
			// A trigger id is unique per click; retries of the same request
			// reuse it.
			EventID:   cb.TriggerID + ":" + a.ActionID,
			SenderID:  cb.User.ID,
			Event:     conversation.QuickReplyOrButton{Payload: a.Value},
			Timestamp: parseTimestamp(a.ActionTs),
		})
	}
	return b, nil
}

// parseTimestamp converts a Slack timestamp (e.g. "1234567890.123456") to a
// time.Time.
func parseTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		frac = (frac + "000000")[:6]
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond))
}
