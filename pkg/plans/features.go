// Package plans interprets the free-form feature flags stored on a Plan.
// Flags are either booleans ("sso": true) or numeric limits ("max_seats": 25).
package plans

import (
	"saasgrid_backend/internal/model"
)

type Feature string

const (
	APIAccess       Feature = "api_access"
	SSO             Feature = "sso"
	AuditLog        Feature = "audit_log"
	PrioritySupport Feature = "priority_support"
	MaxSeats        Feature = "max_seats"
	MaxProjects     Feature = "max_projects"
)

// HasFeature reports whether a plan grants the feature. Numeric flags count
// as granted when positive.
func HasFeature(p *model.Plan, feature Feature) bool {
	if p == nil || p.Features == nil {
		return false
	}
	switch v := p.Features[string(feature)].(type) {
	case bool:
		return v
	case float64:
		return v > 0
	}
	return false
}

// Limit returns a plan's numeric limit for the feature, or 0 when unset.
func Limit(p *model.Plan, feature Feature) int {
	if p == nil || p.Features == nil {
		return 0
	}
	if v, ok := p.Features[string(feature)].(float64); ok {
		return int(v)
	}
	return 0
}
