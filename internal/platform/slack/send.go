package slack

import (
	"context"
	"errors"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/outbound"
)

const (
	// maxButtons is the element limit of one actions block.
	maxButtons = 25
	// maxButtonText is the plain text limit of a button label.
	maxButtonText = 75
	// actionPrefix namespaces button action ids; ids must be unique within
	// a message.
	actionPrefix = "ob_choice_"
)

// permanentErrors are Slack API error strings that retrying cannot fix.
var permanentErrors = map[string]bool{
	"channel_not_found":     true,
	"not_in_channel":        true,
	"is_archived":           true,
	"user_not_found":        true,
	"user_disabled":         true,
	"invalid_auth":          true,
	"not_authed":            true,
	"account_inactive":      true,
	"token_revoked":         true,
	"missing_scope":         true,
	"invalid_blocks":        true,
	"msg_too_long":          true,
	"no_text":               true,
	"cannot_dm_bot":         true,
	"messages_tab_disabled": true,
}

// poster abstracts the Slack API method we use, enabling test mocks.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SenderOpts configures a Sender.
type SenderOpts struct {
	// APIURL overrides the Slack API base URL (tests).
	APIURL string
	// For testing: build clients without talking to Slack.
	NewClient func(token string) poster
}

// Sender posts direct messages as the tenant's bot.
type Sender struct {
	newClient func(token string) poster
}

// NewSender returns a Sender.
func NewSender(opts SenderOpts) *Sender {
	s := &Sender{newClient: opts.NewClient}
	if s.newClient == nil {
		apiURL := opts.APIURL
		s.newClient = func(token string) poster {
			var options []slackapi.Option
			if apiURL != "" {
				options = append(options, slackapi.OptionAPIURL(apiURL))
			}
			return slackapi.New(token, options...)
		}
	}
	return s
}

// Send implements outbound.Sender. Posting to a user id opens or reuses
// the bot's direct message with that user.
func (s *Sender) Send(ctx context.Context, tenant catalog.Tenant, userID string, msg outbound.Message) error {
	if tenant.SlackBotToken == "" {
		return &outbound.SendError{Kind: outbound.Permanent, Err: fmt.Errorf("tenant %s has no slack bot token", tenant.ID)}
	}
	client := s.newClient(tenant.SlackBotToken)
	_, _, err := client.PostMessageContext(ctx, userID, buildMessageOptions(msg)...)
	if err != nil {
		return classify(err)
	}
	return nil
}

// buildMessageOptions renders a message as a section block followed by an
// actions block of buttons. The plain text doubles as the notification
// fallback.
func buildMessageOptions(msg outbound.Message) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if len(msg.Choices) == 0 {
		return options
	}

	section := slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Text, false, false), nil, nil)
	var buttons []slackapi.BlockElement
	for i, c := range msg.Choices {
		if i == maxButtons {
			break
		}
		label := c.Label
		if r := []rune(label); len(r) > maxButtonText {
			label = string(r[:maxButtonText-1]) + "…"
		}
		buttons = append(buttons, slackapi.NewButtonBlockElement(
			fmt.Sprintf("%s%d", actionPrefix, i),
			c.Payload,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, label, false, false),
		))
	}
	return append(options, slackapi.MsgOptionBlocks(section, slackapi.NewActionBlock("ob_choices", buttons...)))
}

// classify maps a slack-go error to an outbound error kind.
func classify(err error) error {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return &outbound.SendError{Kind: outbound.RateLimited, RetryAfter: rle.RetryAfter, Err: err}
	}
	var sce slackapi.StatusCodeError
	if errors.As(err, &sce) {
		if sce.Code >= 500 {
			return &outbound.SendError{Kind: outbound.Retryable, Err: err}
		}
		return &outbound.SendError{Kind: outbound.Permanent, Err: err}
	}
	var ser slackapi.SlackErrorResponse
	if errors.As(err, &ser) {
		if permanentErrors[ser.Err] {
			return &outbound.SendError{Kind: outbound.Permanent, Err: err}
		}
		return &outbound.SendError{Kind: outbound.Retryable, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &outbound.SendError{Kind: outbound.Permanent, Err: err}
	}
	return &outbound.SendError{Kind: outbound.Retryable, Err: err}
}
