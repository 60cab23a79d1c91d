package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/outbound"
)

// Send API limits.
const (
	maxQuickReplies = 13
	maxTitleRunes   = 20
	maxTextRunes    = 2000
)

// Graph API error codes.
const (
	codeTemporary        = 2
	codePermission       = 10
	codeAppRateLimit     = 4
	codeUserRateLimit    = 17
	codePageRateLimit    = 32
	codeCallRateLimit    = 613
	subcodeOutsideWindow = 2018278
)

// SenderOpts configures a Sender.
type SenderOpts struct {
	APIBase    string // e.g. https://graph.facebook.com
	APIVersion string // e.g. v19.0
	// HTTPClient is the base client the page token is layered onto. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Sender posts messages through the Send API using the tenant's page
// access token.
type Sender struct {
	endpoint string
	base     *http.Client
}

// NewSender returns a Sender.
func NewSender(opts SenderOpts) (*Sender, error) {
	if opts.APIBase == "" {
		return nil, fmt.Errorf("messenger: sender: api base is required")
	}
	version := strings.Trim(opts.APIVersion, "/")
	endpoint := strings.TrimRight(opts.APIBase, "/")
	if version != "" {
		endpoint += "/" + version
	}
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	return &Sender{endpoint: endpoint + "/me/messages", base: base}, nil
}

type sendRequest struct {
	Recipient     recipient   `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text         string       `json:"text"`
	QuickReplies []quickReply `json:"quick_replies,omitempty"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// Send implements outbound.Sender.
func (s *Sender) Send(ctx context.Context, tenant catalog.Tenant, psid string, msg outbound.Message) error {
	if tenant.MessengerPageToken == "" {
		return &outbound.SendError{Kind: outbound.Permanent, Err: fmt.Errorf("tenant %s has no page access token", tenant.ID)}
	}
	body, err := json.Marshal(buildRequest(psid, msg))
	if err != nil {
		return &outbound.SendError{Kind: outbound.Permanent, Err: err}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tenant.MessengerPageToken}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &outbound.SendError{Kind: outbound.Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &outbound.SendError{Kind: outbound.Permanent, Err: err}
		}
		return &outbound.SendError{Kind: outbound.Retryable, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return classify(resp, raw)
}

func buildRequest(psid string, msg outbound.Message) sendRequest {
	req := sendRequest{
		Recipient:     recipient{ID: psid},
		MessagingType: "RESPONSE",
		Message:       sendMessage{Text: truncate(msg.Text, maxTextRunes)},
	}
	// Choices past the limit stay reachable by typing their number.
	for i, c := range msg.Choices {
		if i == maxQuickReplies {
			break
		}
		req.Message.QuickReplies = append(req.Message.QuickReplies, quickReply{
			ContentType: "text",
			Title:       truncate(c.Label, maxTitleRunes),
			Payload:     c.Payload,
		})
	}
	return req
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// classify maps a failed Send API response to an outbound error kind.
func classify(resp *http.Response, raw []byte) error {
	var ge graphError
	_ = json.Unmarshal(raw, &ge)
	e := ge.Error
	err := fmt.Errorf("graph api %d: code %d/%d: %s", resp.StatusCode, e.Code, e.ErrorSubcode, e.Message)

	switch {
	case e.ErrorSubcode == subcodeOutsideWindow || e.Code == codePermission:
		return &outbound.SendError{Kind: outbound.WindowClosed, Err: err}
	case resp.StatusCode == http.StatusTooManyRequests,
		e.Code == codeAppRateLimit, e.Code == codeUserRateLimit,
		e.Code == codePageRateLimit, e.Code == codeCallRateLimit:
		return &outbound.SendError{Kind: outbound.RateLimited, RetryAfter: retryAfter(resp.Header), Err: err}
	case resp.StatusCode >= 500, e.Code == codeTemporary:
		return &outbound.SendError{Kind: outbound.Retryable, Err: err}
	}
	return &outbound.SendError{Kind: outbound.Permanent, Err: err}
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
