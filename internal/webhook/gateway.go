// Package webhook is the HTTP entry point for messaging platforms. It
// verifies and parses webhook requests, queues events per sender and
// answers every delivery within the ack budget so platforms do not retry.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/metrics"
	"github.com/zulandar/orderbot/internal/platform"
)

const (
	defaultAckBudget      = 2 * time.Second
	defaultProcessTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// Handler processes one normalized event. *ordering.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, tenantID, channel string, in platform.Inbound) error
}

// Delivery outcomes recorded in metrics.
const (
	OutcomeQueued       = "queued"
	OutcomeDropped      = "dropped"
	OutcomeBadSignature = "bad_signature"
	OutcomeMalformed    = "malformed"
	OutcomeProcessed    = "processed"
	OutcomeFailed       = "failed"
	OutcomePanic        = "panic"
	OutcomeChallenge    = "challenge"
)

// GatewayOpts configures a Gateway.
type GatewayOpts struct {
	Providers []platform.Provider
	Handler   Handler
	Metrics   *metrics.Metrics
	// AckBudget bounds how long a request waits for its events before the
	// 200 is sent. Processing continues afterwards.
	AckBudget      time.Duration
	ProcessTimeout time.Duration
	// Healthy reports readiness for /healthz. Nil is always healthy.
	Healthy func(ctx context.Context) error
}

// Gateway serves the webhook routes.
type Gateway struct {
	providers      map[string]platform.Provider
	handler        Handler
	metrics        *metrics.Metrics
	ackBudget      time.Duration
	processTimeout time.Duration
	healthy        func(ctx context.Context) error
	queue          *keyedQueue

	warnOnce sync.Map // provider name -> *sync.Once
}

// NewGateway returns a Gateway.
func NewGateway(opts GatewayOpts) (*Gateway, error) {
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("webhook: gateway: at least one provider is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("webhook: gateway: handler is required")
	}
	g := &Gateway{
		providers:      make(map[string]platform.Provider, len(opts.Providers)),
		handler:        opts.Handler,
		metrics:        opts.Metrics,
		ackBudget:      opts.AckBudget,
		processTimeout: opts.ProcessTimeout,
		healthy:        opts.Healthy,
		queue:          newKeyedQueue(),
	}
	for _, p := range opts.Providers {
		g.providers[p.Name()] = p
	}
	if g.ackBudget <= 0 {
		g.ackBudget = defaultAckBudget
	}
	if g.processTimeout <= 0 {
		g.processTimeout = defaultProcessTimeout
	}
	return g, nil
}

// Register adds the gateway routes to router.
func (g *Gateway) Register(router *gin.Engine) {
	router.GET("/webhook/:provider/:tenant", g.handleHandshake)
	router.POST("/webhook/:provider/:tenant", g.handleWebhook)
	router.GET("/healthz", g.handleHealth)
	router.GET("/metrics", gin.WrapH(g.metrics.Handler()))
}

// Router returns a gin engine serving the gateway routes.
func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	g.Register(router)
	return router
}

// Close stops accepting events and waits for queued ones to finish.
func (g *Gateway) Close(ctx context.Context) error {
	if err := g.queue.close(ctx); err != nil {
		return fmt.Errorf("webhook: drain queue: %w", err)
	}
	return nil
}

func (g *Gateway) handleHandshake(c *gin.Context) {
	p, ok := g.providers[c.Param("provider")]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	hs, ok := p.(platform.Handshaker)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	challenge, ok := hs.Handshake(c.Request.URL.Query())
	if !ok {
		log.Printf("webhook: %s: handshake for tenant %s rejected", p.Name(), c.Param("tenant"))
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	if g.healthy != nil {
		if err := g.healthy(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) handleWebhook(c *gin.Context) {
	p, ok := g.providers[c.Param("provider")]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	name, tenantID := p.Name(), c.Param("tenant")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("webhook: %s: read body: %v", name, err)
		c.Status(http.StatusBadRequest)
		return
	}

	if err := p.Verify(c.Request.Header, body); err != nil {
		if !errors.Is(err, platform.ErrNoSecret) {
			// Answer 200 so the platform does not redeliver a forged or
			// corrupted request; nothing is processed.
			log.Printf("webhook: %s: rejected request for tenant %s: %v", name, tenantID, err)
			g.metrics.Delivery(name, OutcomeBadSignature)
			c.Status(http.StatusOK)
			return
		}
		g.warnNoSecret(name)
	}

	batch, err := p.Parse(c.Request.Header, body)
	if err != nil {
		log.Printf("webhook: %s: parse for tenant %s: %v", name, tenantID, err)
		g.metrics.Delivery(name, OutcomeMalformed)
		c.Status(http.StatusOK)
		return
	}
	if batch.Challenge != "" {
		g.metrics.Delivery(name, OutcomeChallenge)
		c.String(http.StatusOK, batch.Challenge)
		return
	}
	for i := 0; i < batch.Dropped; i++ {
		g.metrics.Delivery(name, OutcomeDropped)
	}

	var pending []<-chan struct{}
	for _, in := range batch.Events {
		if done := g.enqueue(tenantID, name, in); done != nil {
			pending = append(pending, done)
		}
	}
	g.await(pending)
	c.String(http.StatusOK, "EVENT_RECEIVED")
}

// enqueue schedules in on the sender's queue.
func (g *Gateway) enqueue(tenantID, channel string, in platform.Inbound) <-chan struct{} {
	key := conversation.Key{TenantID: tenantID, Channel: channel, SenderID: in.SenderID}
	g.metrics.Delivery(channel, OutcomeQueued)
	g.metrics.QueueAdd(1)
	done := g.queue.enqueue(key, func() {
		g.metrics.QueueAdd(-1)
		g.process(key, in)
	})
	if done == nil {
		g.metrics.QueueAdd(-1)
		log.Printf("webhook: %s: shutting down, dropping event %s", key, in.EventID)
	}
	return done
}

// await waits for every channel in pending or until the ack budget runs out.
func (g *Gateway) await(pending []<-chan struct{}) {
	if len(pending) == 0 {
		return
	}
	timer := time.NewTimer(g.ackBudget)
	defer timer.Stop()
	for _, done := range pending {
		select {
		case <-done:
		case <-timer.C:
			g.metrics.AckTimeout()
			return
		}
	}
}

// process runs the handler detached from the request, which may already
// have been answered.
func (g *Gateway) process(key conversation.Key, in platform.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), g.processTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("webhook: %s: panic processing event %s: %v\n%s", key, in.EventID, r, debug.Stack())
			g.metrics.Delivery(key.Channel, OutcomePanic)
		}
	}()

	if err := g.handler.Handle(ctx, key.TenantID, key.Channel, in); err != nil {
		log.Printf("webhook: %s: event %s: %v", key, in.EventID, err)
		g.metrics.Delivery(key.Channel, OutcomeFailed)
		return
	}
	g.metrics.Delivery(key.Channel, OutcomeProcessed)
}

func (g *Gateway) warnNoSecret(provider string) {
	once, _ := g.warnOnce.LoadOrStore(provider, &sync.Once{})
	once.(*sync.Once).Do(func() {
		log.Printf("webhook: warning: %s signing secret not configured, accepting unverified requests", provider)
	})
}
