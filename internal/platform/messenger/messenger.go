// Package messenger implements the Facebook Messenger platform: webhook
// signature verification, the subscription handshake, payload parsing and
// the Send API.
package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/platform"
)

// Name is the channel name of this platform.
const Name = "messenger"

const signatureHeader = "X-Hub-Signature-256"

// ProviderOpts configures a Provider.
type ProviderOpts struct {
	AppSecret   string // signs webhook bodies; empty runs unverified
	VerifyToken string // subscription handshake token
}

// Provider is the inbound side of Messenger.
type Provider struct {
	appSecret   string
	verifyToken string
}

// NewProvider returns a Provider.
func NewProvider(opts ProviderOpts) *Provider {
	return &Provider{appSecret: opts.AppSecret, verifyToken: opts.VerifyToken}
}

// Name implements platform.Provider.
func (p *Provider) Name() string { return Name }

// Verify checks X-Hub-Signature-256, the hex HMAC-SHA256 of the raw body
// keyed with the app secret.
func (p *Provider) Verify(header http.Header, body []byte) error {
	if p.appSecret == "" {
		return platform.ErrNoSecret
	}
	sig := header.Get(signatureHeader)
	hexSig, ok := strings.CutPrefix(sig, "sha256=")
	if !ok {
		return fmt.Errorf("messenger: %w: missing %s", platform.ErrBadSignature, signatureHeader)
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return fmt.Errorf("messenger: %w: %v", platform.ErrBadSignature, err)
	}
	if !hmac.Equal(got, Sign([]byte(p.appSecret), body)) {
		return fmt.Errorf("messenger: %w", platform.ErrBadSignature)
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body keyed with secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Handshake answers the subscription check: hub.mode=subscribe with the
// configured hub.verify_token echoes hub.challenge.
func (p *Provider) Handshake(q url.Values) (string, bool) {
	if p.verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(p.verifyToken)) {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

type webhookBody struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string      `json:"id"`
	Messaging []messaging `json:"messaging"`
}

type messaging struct {
	Sender    struct{ ID string } `json:"sender"`
	Recipient struct{ ID string } `json:"recipient"`
	Timestamp int64               `json:"timestamp"` // unix millis
	Message   *message            `json:"message"`
	Postback  *postback           `json:"postback"`
}

type message struct {
	MID        string `json:"mid"`
	Text       string `json:"text"`
	IsEcho     bool   `json:"is_echo"`
	QuickReply *struct {
		Payload string `json:"payload"`
	} `json:"quick_reply"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates"`
	} `json:"payload"`
}

type postback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Parse implements platform.Provider. Echoes of the page's own messages,
// delivery and read receipts, and unsupported attachments are dropped.
func (p *Provider) Parse(_ http.Header, body []byte) (platform.Batch, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return platform.Batch{}, fmt.Errorf("messenger: parse webhook: %w", err)
	}
	if wb.Object != "page" {
		return platform.Batch{}, fmt.Errorf("messenger: parse webhook: unexpected object %q", wb.Object)
	}

	var b platform.Batch
	for _, e := range wb.Entry {
		for _, m := range e.Messaging {
			in, ok := normalize(m)
			if !ok {
				b.Dropped++
				continue
			}
			b.Events = append(b.Events, in)
		}
	}
	return b, nil
}

func normalize(m messaging) (platform.Inbound, bool) {
	in := platform.Inbound{
		SenderID:  m.Sender.ID,
		Timestamp: time.UnixMilli(m.Timestamp),
	}
	switch {
	case m.Postback != nil:
		in.EventID = m.Postback.MID
		in.Event = conversation.QuickReplyOrButton{Payload: m.Postback.Payload}

	case m.Message != nil:
		msg := m.Message
		if msg.IsEcho {
			return in, false
		}
		in.EventID = msg.MID
		switch {
		case msg.QuickReply != nil:
			in.Event = conversation.QuickReplyOrButton{Payload: msg.QuickReply.Payload}
		case msg.Text != "":
			in.Event = conversation.TextMessage{Text: msg.Text}
		default:
			for _, a := range msg.Attachments {
				if a.Type == "location" && a.Payload.Coordinates != nil {
					in.Event = conversation.LocationAttachment{Lat: a.Payload.Coordinates.Lat, Lng: a.Payload.Coordinates.Long}
					break
				}
			}
			if in.Event == nil {
				log.Printf("messenger: dropping unsupported message %s from %s", msg.MID, m.Sender.ID)
				return in, false
			}
		}

	default:
		// deliveries, reads, reactions
		return in, false
	}

	if in.SenderID == "" {
		return in, false
	}
	if in.EventID == "" {
		// Older postbacks carry no mid.
		in.EventID = in.SenderID + ":" + strconv.FormatInt(m.Timestamp, 10)
	}
	return in, true
}
