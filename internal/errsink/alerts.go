package errsink

import (
	"sync"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// Rule is a predicate over log entries with a per-rule cooldown, per
// spec §7.
type Rule struct {
	Name     string
	Cooldown time.Duration
	Matches  func(domain.ErrorLogEntry) bool
}

// DefaultRules returns the three example rules named in spec §7.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "high_error_rate",
			Cooldown: 5 * time.Minute,
			Matches: func(e domain.ErrorLogEntry) bool {
				return e.Level == LevelWarn || e.Level == LevelError
			},
		},
		{
			Name:     "workflow_failure",
			Cooldown: 10 * time.Minute,
			Matches: func(e domain.ErrorLogEntry) bool {
				return e.Category == CategoryWorkflow
			},
		},
		{
			Name:     "system_error",
			Cooldown: time.Minute,
			Matches: func(e domain.ErrorLogEntry) bool {
				return e.Level == LevelFatal && e.Category == CategorySystem
			},
		},
	}
}

// AlertEvaluator fires a rule's side effect (here, recording that it fired;
// wiring an actual notification channel is left to the caller via Fired)
// at most once per Cooldown window.
type AlertEvaluator struct {
	mu       sync.Mutex
	rules    []Rule
	lastFire map[string]time.Time

	// Fired, if set, is invoked synchronously whenever a rule matches and
	// is outside its cooldown window.
	Fired func(ruleName string, entry domain.ErrorLogEntry)
}

func NewAlertEvaluator(rules []Rule) *AlertEvaluator {
	return &AlertEvaluator{rules: rules, lastFire: make(map[string]time.Time)}
}

// Evaluate checks entry against every rule, firing at most once per rule
// per Cooldown window.
func (a *AlertEvaluator) Evaluate(entry domain.ErrorLogEntry) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rule := range a.rules {
		if !rule.Matches(entry) {
			continue
		}
		if last, ok := a.lastFire[rule.Name]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}
		a.lastFire[rule.Name] = now
		if a.Fired != nil {
			a.Fired(rule.Name, entry)
		}
	}
}
