package coordinator

import (
	"testing"
	"time"
)

func rolesOf(roles map[string]string) func(string) string {
	return func(worker string) string { return roles[worker] }
}

func TestResolveResourceConflictFavorsHolder(t *testing.T) {
	r := NewResolver(rolesOf(nil))
	res := r.Resolve(Conflict{
		Kind:      ConflictResource,
		Resource:  "db",
		Holder:    "x",
		Requester: "y",
		Timestamp: time.Now(),
	})
	if res.Winner != "x" {
		t.Errorf("winner = %q, want holder x", res.Winner)
	}
	if res.Escalated {
		t.Error("resource conflict escalated, want holder rule")
	}
}

func TestResolveDecisionByDomainAuthority(t *testing.T) {
	r := NewResolver(rolesOf(map[string]string{
		"reviewer": "code-review",
		"deployer": "deployment",
	}))

	res := r.Resolve(Conflict{
		Kind:      ConflictDecision,
		Domain:    "code-quality",
		Holder:    "deployer",
		Requester: "reviewer",
	})
	if res.Winner != "reviewer" {
		t.Errorf("winner = %q, want reviewer (code-quality authority)", res.Winner)
	}

	res = r.Resolve(Conflict{
		Kind:      ConflictDecision,
		Domain:    "release",
		Holder:    "deployer",
		Requester: "reviewer",
	})
	if res.Winner != "deployer" {
		t.Errorf("winner = %q, want deployer (release authority)", res.Winner)
	}
}

func TestResolveFallsBackToPolicy(t *testing.T) {
	r := NewResolver(rolesOf(map[string]string{"a": "generalist", "b": "generalist"}))
	r.SetPolicy(AuthorityPolicyFunc(func(domain, x, y string) (string, bool) {
		return y, true
	}))

	res := r.Resolve(Conflict{Kind: ConflictDecision, Domain: "naming", Holder: "a", Requester: "b"})
	if res.Winner != "b" {
		t.Errorf("winner = %q, want b from policy", res.Winner)
	}
}

func TestResolveEscalatesWithoutAuthority(t *testing.T) {
	r := NewResolver(rolesOf(map[string]string{"a": "generalist", "b": "generalist"}))
	var escalated *Conflict
	r.OnEscalate(func(c Conflict) { escalated = &c })

	res := r.Resolve(Conflict{Kind: ConflictDecision, Domain: "naming", Holder: "a", Requester: "b"})
	if !res.Escalated {
		t.Fatal("resolution not escalated with no authority or policy")
	}
	if res.Winner != "" {
		t.Errorf("winner = %q, want none", res.Winner)
	}
	if escalated == nil {
		t.Fatal("operator hook not invoked")
	}
	if !escalated.Escalated {
		t.Error("escalated conflict not flagged")
	}
}

func TestSetAuthorityOverridesDomain(t *testing.T) {
	r := NewResolver(rolesOf(map[string]string{"ops": "platform"}))
	r.SetAuthority("release", "platform")

	res := r.Resolve(Conflict{Kind: ConflictDecision, Domain: "release", Holder: "ops", Requester: "dev"})
	if res.Winner != "ops" {
		t.Errorf("winner = %q, want ops after authority override", res.Winner)
	}
}
