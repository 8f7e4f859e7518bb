package sqlite

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

const selectRiskAssessment = `SELECT change_request_id, technician_id, impact, likelihood, exposure, score, level, created_at, updated_at
	FROM risk_assessments`

var upsertRiskAssessment = buildUpsert("risk_assessments", []string{
	"change_request_id", "technician_id", "impact", "likelihood", "exposure", "score", "level", "created_at", "updated_at",
}, "change_request_id")

func scanRiskAssessment(s scanner) (*model.RiskAssessment, error) {
	var (
		ra                   model.RiskAssessment
		createdAt, updatedAt int64
	)
	if err := s.Scan(&ra.ChangeRequestID, &ra.TechnicianID, &ra.Impact, &ra.Likelihood, &ra.Exposure,
		&ra.Score, &ra.Level, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ra.CreatedAt = fromNanos(createdAt)
	ra.UpdatedAt = fromNanos(updatedAt)
	return &ra, nil
}

// findRiskAssessment returns nil without error when no assessment exists
func findRiskAssessment(ctx context.Context, q querier, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	ra, err := scanRiskAssessment(q.QueryRowContext(ctx, selectRiskAssessment+" WHERE change_request_id = ?", id.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get risk assessment", goerr.V(model.ChangeRequestIDKey, id))
	}
	return ra, nil
}

func putRiskAssessment(ctx context.Context, q querier, ra *model.RiskAssessment) error {
	_, err := q.ExecContext(ctx, upsertRiskAssessment,
		ra.ChangeRequestID.String(), ra.TechnicianID.String(), ra.Impact, ra.Likelihood, ra.Exposure,
		ra.Score, ra.Level.String(), toNanos(ra.CreatedAt), toNanos(ra.UpdatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
		}
		return goerr.Wrap(err, "failed to put risk assessment", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
	}
	return nil
}

type riskAssessmentRepository struct {
	r *Repository
}

func (x *riskAssessmentRepository) Put(ctx context.Context, ra *model.RiskAssessment) error {
	if err := ra.Validate(); err != nil {
		return err
	}
	return putRiskAssessment(ctx, x.r.db, ra)
}

func (x *riskAssessmentRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	ra, err := findRiskAssessment(ctx, x.r.db, id)
	if err != nil {
		return nil, err
	}
	if ra == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "risk assessment not found", goerr.V(model.ChangeRequestIDKey, id))
	}
	return ra, nil
}
