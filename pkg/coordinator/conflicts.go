package coordinator

import (
	"sync"
	"time"
)

// ConflictKind distinguishes the three arbitration paths.
type ConflictKind string

const (
	ConflictResource   ConflictKind = "resource"
	ConflictDecision   ConflictKind = "decision"
	ConflictDependency ConflictKind = "dependency"
)

// Conflict describes one contention event between workers.
type Conflict struct {
	Kind      ConflictKind
	Resource  string
	Domain    string
	Holder    string
	Requester string
	Detail    string
	Escalated bool
	Timestamp time.Time
}

// Resolution is the outcome of resolving a conflict. When Escalated is true
// no winner was determined and an operator was notified.
type Resolution struct {
	Winner    string
	Escalated bool
	Rationale string
}

// AuthorityPolicy decides decision conflicts the built-in domain table cannot.
// Implementations return the winning worker name, or ok=false to escalate.
type AuthorityPolicy interface {
	Resolve(domain, a, b string) (winner string, ok bool)
}

// AuthorityPolicyFunc adapts a function to AuthorityPolicy.
type AuthorityPolicyFunc func(domain, a, b string) (string, bool)

func (f AuthorityPolicyFunc) Resolve(domain, a, b string) (string, bool) {
	return f(domain, a, b)
}

// defaultAuthority maps decision domains to the worker role that holds
// authority in that domain.
var defaultAuthority = map[string]string{
	"code-quality": "code-review",
	"security":     "security-scan",
	"release":      "deployment",
	"messaging":    "notification",
}

// Resolver applies the fixed resolution rules: resource conflicts go to the
// current holder, decision conflicts to the worker with domain authority, and
// everything else escalates to the operator.
type Resolver struct {
	mu         sync.RWMutex
	authority  map[string]string
	roleOf     func(worker string) string
	policy     AuthorityPolicy
	onEscalate func(Conflict)
}

// NewResolver creates a resolver using roleOf to map worker names to roles.
func NewResolver(roleOf func(worker string) string) *Resolver {
	authority := make(map[string]string, len(defaultAuthority))
	for domain, role := range defaultAuthority {
		authority[domain] = role
	}
	return &Resolver{
		authority: authority,
		roleOf:    roleOf,
	}
}

// SetAuthority overrides the authoritative role for a domain.
func (r *Resolver) SetAuthority(domain, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authority[domain] = role
}

// SetPolicy installs a fallback policy consulted when the domain table does
// not determine a winner.
func (r *Resolver) SetPolicy(p AuthorityPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// OnEscalate registers the operator notification hook.
func (r *Resolver) OnEscalate(fn func(Conflict)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEscalate = fn
}

// Resolve arbitrates the conflict and returns the outcome.
func (r *Resolver) Resolve(c Conflict) Resolution {
	r.mu.RLock()
	authority := r.authority[c.Domain]
	roleOf := r.roleOf
	policy := r.policy
	escalate := r.onEscalate
	r.mu.RUnlock()

	switch c.Kind {
	case ConflictResource:
		// Possession rule: whoever holds the resource keeps it.
		return Resolution{Winner: c.Holder, Rationale: "current holder retains resource"}

	case ConflictDecision:
		if authority != "" && roleOf != nil {
			holderRole := roleOf(c.Holder)
			requesterRole := roleOf(c.Requester)
			switch {
			case holderRole == authority && requesterRole != authority:
				return Resolution{Winner: c.Holder, Rationale: "domain authority: " + c.Domain}
			case requesterRole == authority && holderRole != authority:
				return Resolution{Winner: c.Requester, Rationale: "domain authority: " + c.Domain}
			}
		}
		if policy != nil {
			if winner, ok := policy.Resolve(c.Domain, c.Holder, c.Requester); ok {
				return Resolution{Winner: winner, Rationale: "authority policy"}
			}
		}
	}

	c.Escalated = true
	if escalate != nil {
		escalate(c)
	}
	return Resolution{Escalated: true, Rationale: "no authority determined, escalated to operator"}
}
