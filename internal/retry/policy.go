package retry

import "github.com/linkflow-ai/officeflow-engine/internal/domain"

// DefaultPolicy is the global fallback, per spec §4.6.
func DefaultPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:   3,
		BackoffMs:    1000,
		Multiplier:   2,
		MaxBackoffMs: 300_000,
		Jitter:       true,
	}
}

// nodeTypeDefaults overrides the global default per node type, per spec
// §4.6's table.
var nodeTypeDefaults = map[domain.NodeType]domain.RetryPolicy{
	domain.NodeIdentityProvision: {MaxRetries: 5, BackoffMs: 2000, Multiplier: 2, MaxBackoffMs: 60_000, Jitter: true},
	domain.NodeEmailSend:         {MaxRetries: 3, BackoffMs: 1000, Multiplier: 2, MaxBackoffMs: 30_000, Jitter: true},
	domain.NodeWebhookCall:       {MaxRetries: 3, BackoffMs: 500, Multiplier: 2, MaxBackoffMs: 15_000, Jitter: true},
	domain.NodeAIGenerateContent: {MaxRetries: 2, BackoffMs: 5000, Multiplier: 2, MaxBackoffMs: 120_000, Jitter: true},
	domain.NodeCalendarSchedule:  {MaxRetries: 4, BackoffMs: 1500, Multiplier: 2, MaxBackoffMs: 45_000, Jitter: true},
}

// ResolvePolicy picks the most specific of the global default, any
// per-node-type default, and a per-node override (node.RetryPolicy), in
// increasing precedence. The chosen policy replaces the others whole; fields
// are not merged one by one.
func ResolvePolicy(nodeType domain.NodeType, override *domain.RetryPolicy) domain.RetryPolicy {
	policy := DefaultPolicy()
	if typeDefault, ok := nodeTypeDefaults[nodeType]; ok {
		policy = typeDefault
	}
	if override != nil {
		policy = *override
	}
	return policy
}
