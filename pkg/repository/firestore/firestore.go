package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names. Histories live in their own top level collection so that
// sync export can query them by CreatedAt.
const (
	collChangeRequests  = "change_requests"
	collHistories       = "approval_histories"
	collRiskAssessments = "risk_assessments"
	collNotifications   = "notifications"
	collTickets         = "tickets"
	collCounters        = "counters"
	collSyncState       = "sync_state"
)

type Firestore struct {
	client           *firestore.Client
	collectionPrefix string
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	f := &Firestore{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) collection(name string) *firestore.CollectionRef {
	if f.collectionPrefix != "" {
		return f.client.Collection(f.collectionPrefix + "_" + name)
	}
	return f.client.Collection(name)
}

func (f *Firestore) ChangeRequest() interfaces.ChangeRequestRepository {
	return &changeRequestRepository{f: f}
}

func (f *Firestore) ApprovalHistory() interfaces.ApprovalHistoryRepository {
	return &approvalHistoryRepository{f: f}
}

func (f *Firestore) RiskAssessment() interfaces.RiskAssessmentRepository {
	return &riskAssessmentRepository{f: f}
}

func (f *Firestore) Notification() interfaces.NotificationRepository {
	return &notificationRepository{f: f}
}

func (f *Firestore) Sync() interfaces.SyncRepository {
	return &syncRepository{f: f}
}

func (f *Firestore) GetSyncState(ctx context.Context) (*model.SyncState, error) {
	doc, err := f.collection(collSyncState).Doc("device").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &model.SyncState{}, nil
		}
		return nil, goerr.Wrap(err, "failed to get sync state")
	}

	var state model.SyncState
	if err := doc.DataTo(&state); err != nil {
		return nil, goerr.Wrap(err, "failed to decode sync state")
	}
	return &state, nil
}

func (f *Firestore) PutSyncState(ctx context.Context, state *model.SyncState) error {
	if _, err := f.collection(collSyncState).Doc("device").Set(ctx, state); err != nil {
		return goerr.Wrap(err, "failed to put sync state")
	}
	return nil
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
