package auth

import "context"

// Principal carries the manual-review submission protocol's auth.tenant_id
// and auth.scopes (spec.md §4.7 validation steps 3-4). This domain has no
// identity provider (spec.md Non-goals), so Principal is a trusted claim
// carrier decoded from a bearer token, not a verified-signature identity.
type Principal struct {
	TenantID string
	ActorID  string
	Scopes   []string
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// ManualReviewScope is the fixed scope string spec.md §4.7 step 4 requires
// on every manual-review submission.
const ManualReviewScope = "mcs:sales_email:manual_review"
