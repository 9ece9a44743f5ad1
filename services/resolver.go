package services

import (
	"context"
	"errors"
	"net"
	"strings"

	"tls_portal_go/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolveKind distinguishes "no portal was asked for" from "the portal does not exist"
type ResolveKind int

const (
	ResolveNoCandidate ResolveKind = iota
	ResolveNotFound
	ResolveFound
)

func (k ResolveKind) String() string {
	switch k {
	case ResolveNotFound:
		return "not-found"
	case ResolveFound:
		return "found"
	}
	return "no-candidate"
}

// Labels that never name a client portal
var reservedSubdomains = map[string]struct{}{
	"www":    {},
	"app":    {},
	"api":    {},
	"admin":  {},
	"portal": {},
}

// ResolvedPortal is a client together with its portal config. Portal is nil while
// the client's portal has not been provisioned yet.
type ResolvedPortal struct {
	Client *models.Client       `json:"client"`
	Portal *models.PortalConfig `json:"portal"`
}

type ResolveResult struct {
	Kind      ResolveKind
	Candidate string
	Portal    *ResolvedPortal
}

// ClientResolver maps a request hostname to a client portal
type ClientResolver struct {
	db         *gorm.DB
	baseDomain string
	cache      PortalCache
	log        *zap.Logger
}

// NewClientResolver creates a resolver. cache may be nil.
func NewClientResolver(db *gorm.DB, baseDomain string, cache PortalCache, log *zap.Logger) *ClientResolver {
	return &ClientResolver{db: db, baseDomain: strings.ToLower(baseDomain), cache: cache, log: log}
}

// Candidate extracts the subdomain label from host. For localhost the label comes
// from the subdomain query parameter instead.
func Candidate(host, subdomainParam string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	if host == "localhost" || host == "127.0.0.1" {
		candidate := strings.ToLower(strings.TrimSpace(subdomainParam))
		return candidate, candidate != ""
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[0] == "" {
		return "", false
	}
	if _, reserved := reservedSubdomains[labels[0]]; reserved {
		return "", false
	}
	return labels[0], true
}

func (r *ClientResolver) Resolve(ctx context.Context, host, subdomainParam string) (ResolveResult, error) {
	candidate, ok := Candidate(host, subdomainParam)
	if !ok {
		return ResolveResult{Kind: ResolveNoCandidate}, nil
	}
	result := ResolveResult{Kind: ResolveNotFound, Candidate: candidate}

	if r.cache != nil {
		if portal, hit := r.cache.Get(ctx, candidate); hit {
			result.Kind = ResolveFound
			result.Portal = portal
			return result, nil
		}
	}

	portal, err := r.lookup(ctx, candidate)
	if err != nil {
		return result, err
	}
	if portal == nil {
		r.log.Debug("Portal not found", zap.String("subdomain", candidate))
		return result, nil
	}

	if r.cache != nil && portal.Portal != nil {
		r.cache.Set(ctx, candidate, portal)
	}
	result.Kind = ResolveFound
	result.Portal = portal
	return result, nil
}

// Invalidate drops a cached resolution
func (r *ClientResolver) Invalidate(ctx context.Context, subdomain string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, subdomain)
	}
}

// lookup tries the portal-config index first, then clients.subdomain, then clients.portal_url
func (r *ClientResolver) lookup(ctx context.Context, candidate string) (*ResolvedPortal, error) {
	db := r.db.WithContext(ctx)

	var config models.PortalConfig
	err := db.Where("subdomain = ?", candidate).First(&config).Error
	switch {
	case err == nil:
		if !config.IsActive() {
			return nil, nil
		}
		client, err := r.liveClient(db.Where("id = ?", config.ClientID))
		if err != nil || client == nil {
			return nil, err
		}
		return &ResolvedPortal{Client: client, Portal: &config}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, Internal(err, "failed to look up portal config")
	}

	// No portal config yet: the client may still be pending provisioning
	client, err := r.liveClient(db.Where("subdomain = ?", candidate))
	if err != nil {
		return nil, err
	}
	if client == nil {
		client, err = r.liveClient(db.Where("portal_url = ?", PortalURL(candidate, r.baseDomain)))
		if err != nil || client == nil {
			return nil, err
		}
	}
	return &ResolvedPortal{Client: client}, nil
}

func (r *ClientResolver) liveClient(query *gorm.DB) (*models.Client, error) {
	var client models.Client
	err := query.Where("status <> ?", models.ClientStatusArchived).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal(err, "failed to look up client")
	}
	return &client, nil
}
