// Package classify turns raw message text into a structured classification.
// The external classifier is an unreliable collaborator: every path through
// this package degrades to the heuristic rather than failing ingestion.
package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// Context carries tenant and contact enrichment for personalized replies.
type Context struct {
	Tenant  types.Tenant
	Contact *types.Contact
	Channel types.Channel
}

// Classifier is the external capability boundary.
type Classifier interface {
	Classify(ctx context.Context, text string, cctx Context) (types.Classification, error)
}

// ModuleChecker answers whether a feature module is enabled for a tenant. A
// lookup failure is expected to degrade, never to propagate.
type ModuleChecker interface {
	ModuleEnabled(ctx context.Context, tenantID, module string) (bool, error)
}

// Service wraps the external classifier with a bounded timeout, the heuristic
// fallback, and tenant feature gating. Its Classify is total.
type Service struct {
	external Classifier
	modules  ModuleChecker
	timeout  time.Duration
	log      *zap.Logger
}

func NewService(external Classifier, modules ModuleChecker, timeout time.Duration, log *zap.Logger) *Service {
	return &Service{external: external, modules: modules, timeout: timeout, log: log}
}

// moduleFor maps gated categories to their tenant feature module. Ungated
// categories return "".
func moduleFor(c types.TaskCategory) string {
	switch c {
	case types.CategoryBooking:
		return "booking"
	case types.CategoryOrdering:
		return "ordering"
	case types.CategoryMembership:
		return "membership"
	default:
		return ""
	}
}

func (s *Service) Classify(ctx context.Context, text string, cctx Context) types.Classification {
	cls, ok := s.tryExternal(ctx, text, cctx)
	if !ok {
		cls = Heuristic(text, cctx)
	}
	return s.gate(ctx, cctx.Tenant, cls)
}

func (s *Service) tryExternal(ctx context.Context, text string, cctx Context) (types.Classification, bool) {
	if s.external == nil {
		return types.Classification{}, false
	}
	bounded, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cls, err := s.external.Classify(bounded, text, cctx)
	if err != nil {
		s.log.Warn("external classifier failed, using heuristic",
			zap.String("tenant_id", cctx.Tenant.ID), zap.Error(err))
		return types.Classification{}, false
	}
	if cls.Category == "" || cls.Subtype == "" {
		s.log.Warn("external classifier returned incomplete result, using heuristic",
			zap.String("tenant_id", cctx.Tenant.ID))
		return types.Classification{}, false
	}
	return cls, true
}

// gate downgrades categories whose module the tenant has not enabled. A failed
// module lookup downgrades too: an ungated task never reaches the queue.
func (s *Service) gate(ctx context.Context, tenant types.Tenant, cls types.Classification) types.Classification {
	module := moduleFor(cls.Category)
	if module == "" {
		return cls
	}

	enabled, err := s.modules.ModuleEnabled(ctx, tenant.ID, module)
	if err != nil {
		s.log.Warn("module gating lookup failed, downgrading to general enquiry",
			zap.String("tenant_id", tenant.ID), zap.String("module", module), zap.Error(err))
		return downgrade(cls)
	}
	if !enabled {
		return downgrade(cls)
	}
	return cls
}

func downgrade(cls types.Classification) types.Classification {
	cls.Category = types.CategoryGeneralEnquiry
	cls.Subtype = types.SubtypeGeneral
	return cls
}
