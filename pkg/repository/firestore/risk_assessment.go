package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

type riskAssessmentRepository struct {
	f *Firestore
}

func (r *riskAssessmentRepository) Put(ctx context.Context, ra *model.RiskAssessment) error {
	if err := ra.Validate(); err != nil {
		return err
	}

	crRef := r.f.collection(collChangeRequests).Doc(ra.ChangeRequestID.String())
	riskRef := r.f.collection(collRiskAssessments).Doc(ra.ChangeRequestID.String())
	return r.f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(crRef); err != nil {
			if isNotFound(err) {
				return goerr.Wrap(model.ErrNotFound, "change request not found", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
			}
			return goerr.Wrap(err, "failed to get change request", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
		}
		if err := tx.Set(riskRef, ra); err != nil {
			return goerr.Wrap(err, "failed to put risk assessment", goerr.V(model.ChangeRequestIDKey, ra.ChangeRequestID))
		}
		return nil
	})
}

func (r *riskAssessmentRepository) Get(ctx context.Context, id types.ChangeRequestID) (*model.RiskAssessment, error) {
	doc, err := r.f.collection(collRiskAssessments).Doc(id.String()).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "risk assessment not found", goerr.V(model.ChangeRequestIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get risk assessment", goerr.V(model.ChangeRequestIDKey, id))
	}

	var ra model.RiskAssessment
	if err := doc.DataTo(&ra); err != nil {
		return nil, goerr.Wrap(err, "failed to decode risk assessment", goerr.V(model.ChangeRequestIDKey, id))
	}
	return &ra, nil
}
