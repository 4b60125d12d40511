package service

import (
	"context"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/pipeline"
)

// Canceller flips the cancellation flag for an in-flight request.
type Canceller interface {
	Cancel(ctx context.Context, requestID string) error
}

// StatsProvider backs the dashboard endpoint.
type StatsProvider interface {
	GetDashboardStats(ctx context.Context) (*domain.DashboardStats, error)
}

// AdjudicationService fronts the pipeline controller for the HTTP layer.
type AdjudicationService struct {
	controller *pipeline.Controller
	canceller  Canceller
	stats      StatsProvider
}

func NewAdjudicationService(c *pipeline.Controller, canceller Canceller, stats StatsProvider) *AdjudicationService {
	return &AdjudicationService{controller: c, canceller: canceller, stats: stats}
}

func (s *AdjudicationService) Submit(ctx context.Context, req *domain.PARequest) (*domain.PipelineResult, error) {
	return s.controller.Adjudicate(ctx, req)
}

func (s *AdjudicationService) Cancel(ctx context.Context, requestID string) error {
	return s.canceller.Cancel(ctx, requestID)
}

func (s *AdjudicationService) GetAudit(ctx context.Context, requestID string) (*audit.AuditRecord, error) {
	return s.controller.GetAudit(ctx, requestID)
}

func (s *AdjudicationService) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	return s.stats.GetDashboardStats(ctx)
}
