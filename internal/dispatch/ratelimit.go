package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// RateLimitConfig bounds how fast the dispatcher may publish requests, per
// organization and per node type. Grounded on the teacher's
// internal/worker/middleware/ratelimit.go (RateLimitMiddleware), narrowed
// from "workspace + node type + global" to "org + node type" since this
// system has no global executor pool to protect.
type RateLimitConfig struct {
	OrgRPS        float64
	OrgBurst      int
	NodeTypeRPS   map[domain.NodeType]float64
	NodeTypeBurst map[domain.NodeType]int
}

// DefaultRateLimitConfig throttles every dispatch through its org's bucket
// and additionally limits the node types that call out to shared
// third-party integrations; other node types are limited by the org bucket
// only.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		OrgRPS:   50,
		OrgBurst: 25,
		NodeTypeRPS: map[domain.NodeType]float64{
			domain.NodeSlackMessage:       20,
			domain.NodeSlackChannelInvite: 20,
			domain.NodeEmailSend:          10,
			domain.NodeAIGenerateContent:  5,
			domain.NodeWebhookCall:        50,
		},
		NodeTypeBurst: map[domain.NodeType]int{
			domain.NodeSlackMessage:       10,
			domain.NodeSlackChannelInvite: 10,
			domain.NodeEmailSend:          5,
			domain.NodeAIGenerateContent:  2,
			domain.NodeWebhookCall:        25,
		},
	}
}

// RateLimiter holds lazily-created, per-key token buckets and blocks a
// dispatch until both its org and node-type buckets admit it.
type RateLimiter struct {
	cfg      RateLimitConfig
	limiters sync.Map // string key -> *rate.Limiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg}
}

// Wait blocks until ctx is done or both the org and node-type limiters (the
// latter only if nodeType has a configured limit) admit the request.
func (r *RateLimiter) Wait(ctx context.Context, orgID string, nodeType domain.NodeType) error {
	if err := r.orgLimiter(orgID).Wait(ctx); err != nil {
		return err
	}
	if nt := r.nodeTypeLimiter(nodeType); nt != nil {
		if err := nt.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *RateLimiter) orgLimiter(orgID string) *rate.Limiter {
	key := "org:" + orgID
	if l, ok := r.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	rps := r.cfg.OrgRPS
	if rps <= 0 {
		rps = 50
	}
	burst := r.cfg.OrgBurst
	if burst <= 0 {
		burst = 25
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	actual, _ := r.limiters.LoadOrStore(key, l)
	return actual.(*rate.Limiter)
}

func (r *RateLimiter) nodeTypeLimiter(nodeType domain.NodeType) *rate.Limiter {
	rps, ok := r.cfg.NodeTypeRPS[nodeType]
	if !ok {
		return nil
	}
	key := "nodetype:" + string(nodeType)
	if l, ok := r.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	burst := r.cfg.NodeTypeBurst[nodeType]
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	actual, _ := r.limiters.LoadOrStore(key, l)
	return actual.(*rate.Limiter)
}
