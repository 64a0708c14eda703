package auth

import "context"

type contextKey string

const contextKeyIdentity contextKey = "auth.identity"

// IdentityScope lists the companies and sites an identity may touch.
type IdentityScope struct {
	Companies        []string
	ProductionSites  []string
	ConsumptionSites []string
	AllSites         bool
}

// Identity is the authenticated caller. It doubles as the site access
// capability handed to the allocation core.
type Identity struct {
	CompanyID string
	Role      Role
	Subject   string

	companies   map[string]struct{}
	production  map[string]struct{}
	consumption map[string]struct{}
	allSites    bool
}

// NewIdentity builds an identity. Admins see every site.
func NewIdentity(companyID string, role Role, subject string, scope IdentityScope) Identity {
	return Identity{
		CompanyID:   companyID,
		Role:        role,
		Subject:     subject,
		companies:   toSet(append([]string{companyID}, scope.Companies...)),
		production:  toSet(scope.ProductionSites),
		consumption: toSet(scope.ConsumptionSites),
		allSites:    scope.AllSites || role == RoleAdmin,
	}
}

// HasSiteAccess reports whether the identity may see a site of the given type.
func (i Identity) HasSiteAccess(siteID, siteType string) bool {
	if i.allSites {
		return true
	}
	switch siteType {
	case "production":
		_, ok := i.production[siteID]
		return ok
	case "consumption":
		_, ok := i.consumption[siteID]
		return ok
	}
	return false
}

// CanAccessCompany reports whether the identity is scoped to companyID.
func (i Identity) CanAccessCompany(companyID string) bool {
	if i.Role == RoleAdmin {
		return true
	}
	_, ok := i.companies[companyID]
	return ok
}

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	identity, _ := IdentityFromContext(ctx)
	return identity.Role
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Subject
}

// EnsureCompany checks the caller in ctx may act on companyID. Requests
// without an identity pass; the middleware decides whether one is required.
func EnsureCompany(ctx context.Context, companyID string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	if !identity.CanAccessCompany(companyID) {
		return ErrCompanyMismatch
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
