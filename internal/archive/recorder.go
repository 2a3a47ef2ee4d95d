package archive

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/export"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

const instrumentationName = "github.com/rodcar/agentic-software-factory/internal/archive"

// Recorder archives both artifacts when a session is approved.
type Recorder struct {
	store  Store
	logger *zap.Logger

	meter           metric.Meter
	archivedCounter metric.Int64Counter
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		store:  store,
		logger: logger,
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	r.archivedCounter, err = r.meter.Int64Counter(
		"specfactory.archive.entries_total",
		metric.WithDescription("Total artifacts archived on approval"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		logger.Warn("failed to create archive counter", zap.Error(err))
	}

	return r, nil
}

// SessionApproved stores the approved functional specification and test plan.
func (r *Recorder) SessionApproved(ctx context.Context, approval session.Approval) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "archive.record_approval")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", approval.SessionID))

	name := export.ProjectName(approval.Spec.Content)
	if name == "" {
		name = approval.Idea
	}

	entries := []Entry{
		{
			SessionID:   approval.SessionID,
			ProjectName: name,
			Kind:        string(document.KindFunctionalSpec),
			Version:     approval.Spec.ID,
			Content:     export.RenderDocument(document.KindFunctionalSpec, approval.Spec.Content),
			Idea:        approval.Idea,
			ApprovedAt:  approval.ApprovedAt,
		},
		{
			SessionID:   approval.SessionID,
			ProjectName: name,
			Kind:        string(document.KindTestPlan),
			Version:     approval.TestPlan.ID,
			Content:     export.RenderDocument(document.KindTestPlan, approval.TestPlan.Content),
			Idea:        approval.Idea,
			ApprovedAt:  approval.ApprovedAt,
		},
	}

	ids, err := r.store.Add(ctx, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to archive approved artifacts: %w", err)
	}

	if r.archivedCounter != nil {
		r.archivedCounter.Add(ctx, int64(len(ids)))
	}

	r.logger.Info("archived approved artifacts",
		zap.String("session_id", approval.SessionID),
		zap.String("project_name", name),
		zap.Strings("entry_ids", ids),
	)

	span.SetStatus(codes.Ok, "success")
	return nil
}

var _ session.ApprovalHook = (*Recorder)(nil)
