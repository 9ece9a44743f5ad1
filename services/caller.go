package services

import "tls_portal_go/models"

// Caller is the authenticated principal behind a request
type Caller struct {
	IdentityID string
	Email      string
	Role       string
	TenantID   string
	ClientID   string
}

// CallerFromClaims builds a Caller from verified token claims
func CallerFromClaims(claims *PortalClaims) *Caller {
	if claims == nil {
		return nil
	}
	return &Caller{
		IdentityID: claims.Subject,
		Email:      claims.Email,
		Role:       claims.Role,
		TenantID:   claims.TenantID,
		ClientID:   claims.ClientID,
	}
}

// CallerFromIdentity builds a Caller from the stored identity, so claim changes
// take effect without waiting for token expiry
func CallerFromIdentity(identity *models.AuthIdentity) *Caller {
	return &Caller{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Role:       identity.Claims.Role,
		TenantID:   identity.Claims.TenantID,
		ClientID:   identity.Claims.ClientID,
	}
}

func (c *Caller) IsStaff() bool {
	return c != nil && (c.Role == models.RoleStaff || c.Role == models.RoleAdmin)
}

// AuthorizeClient checks that caller may act on the given client. Clients may only
// address their own record; staff and admins any client of their tenant.
func AuthorizeClient(caller *Caller, tenantID, clientID string) error {
	if caller == nil || caller.IdentityID == "" {
		return Unauthenticated("User must be authenticated")
	}
	if tenantID == "" || clientID == "" {
		return InvalidArgument("tenantId and clientId are required")
	}
	switch caller.Role {
	case models.RoleClient:
		if caller.TenantID == tenantID && caller.ClientID == clientID {
			return nil
		}
	case models.RoleStaff, models.RoleAdmin:
		if caller.TenantID == tenantID {
			return nil
		}
	}
	return PermissionDenied("Not allowed to access this client")
}

// AuthorizeStaff checks that caller is staff or admin of tenantID
func AuthorizeStaff(caller *Caller, tenantID string) error {
	if caller == nil || caller.IdentityID == "" {
		return Unauthenticated("User must be authenticated")
	}
	if !caller.IsStaff() || caller.TenantID != tenantID {
		return PermissionDenied("Staff access required")
	}
	return nil
}
