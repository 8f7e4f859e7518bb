package memory

import (
	"context"
	"sync"

	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory keeps every entity behind one lock so that a transition, a delete or
// a sync import is applied as a single unit.
type Memory struct {
	mu sync.RWMutex

	changeRequests map[types.ChangeRequestID]*model.ChangeRequest
	tickets        map[model.TicketID]types.ChangeRequestID
	counters       map[string]int64
	histories      map[types.ChangeRequestID][]*model.ApprovalHistory
	historyIDs     map[types.HistoryID]struct{}
	assessments    map[types.ChangeRequestID]*model.RiskAssessment
	notifications  map[types.NotificationID]*model.Notification
	syncState      model.SyncState

	provisionalTickets bool
}

var _ interfaces.Repository = &Memory{}

type Option func(*Memory)

// WithProvisionalTickets numbers created requests CR-YYYYMMDD-LNNNN, for
// device stores whose tickets are assigned by the server
func WithProvisionalTickets() Option {
	return func(m *Memory) {
		m.provisionalTickets = true
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		changeRequests: make(map[types.ChangeRequestID]*model.ChangeRequest),
		tickets:        make(map[model.TicketID]types.ChangeRequestID),
		counters:       make(map[string]int64),
		histories:      make(map[types.ChangeRequestID][]*model.ApprovalHistory),
		historyIDs:     make(map[types.HistoryID]struct{}),
		assessments:    make(map[types.ChangeRequestID]*model.RiskAssessment),
		notifications:  make(map[types.NotificationID]*model.Notification),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) ChangeRequest() interfaces.ChangeRequestRepository {
	return &changeRequestRepository{m: m}
}

func (m *Memory) ApprovalHistory() interfaces.ApprovalHistoryRepository {
	return &approvalHistoryRepository{m: m}
}

func (m *Memory) RiskAssessment() interfaces.RiskAssessmentRepository {
	return &riskAssessmentRepository{m: m}
}

func (m *Memory) Notification() interfaces.NotificationRepository {
	return &notificationRepository{m: m}
}

func (m *Memory) Sync() interfaces.SyncRepository {
	return &syncRepository{m: m}
}

func (m *Memory) GetSyncState(ctx context.Context) (*model.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.syncState
	return &state, nil
}

func (m *Memory) PutSyncState(ctx context.Context, state *model.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncState = *state
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func copyHistory(h *model.ApprovalHistory) *model.ApprovalHistory {
	c := *h
	return &c
}

func copyAssessment(ra *model.RiskAssessment) *model.RiskAssessment {
	c := *ra
	return &c
}

func copyNotification(n *model.Notification) *model.Notification {
	c := *n
	return &c
}
