package usecase

import (
	"time"

	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
)

type UseCases struct {
	repo     interfaces.Repository
	workflow *model.Workflow
	users    *model.UserDirectory
	broker   interfaces.NotificationBroker
	notifier interfaces.TransitionNotifier
	now      func() time.Time

	ChangeRequest *ChangeRequestUseCase
	Workflow      *WorkflowUseCase
	Risk          *RiskUseCase
	Notification  *NotificationUseCase
	Sync          *SyncUseCase
	Auth          AuthUseCaseInterface
}

type Option func(*UseCases)

// WithWorkflow replaces the default transition table
func WithWorkflow(w *model.Workflow) Option {
	return func(uc *UseCases) {
		uc.workflow = w
	}
}

func WithUsers(users *model.UserDirectory) Option {
	return func(uc *UseCases) {
		uc.users = users
	}
}

// WithBroker enables live fan-out of created notifications
func WithBroker(b interfaces.NotificationBroker) Option {
	return func(uc *UseCases) {
		uc.broker = b
	}
}

// WithNotifier announces every committed transition, e.g. to Slack
func WithNotifier(n interfaces.TransitionNotifier) Option {
	return func(uc *UseCases) {
		uc.notifier = n
	}
}

func WithAuth(auth AuthUseCaseInterface) Option {
	return func(uc *UseCases) {
		uc.Auth = auth
	}
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:     repo,
		workflow: model.DefaultWorkflow(),
		users:    model.NewUserDirectory(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.ChangeRequest = &ChangeRequestUseCase{uc: uc}
	uc.Workflow = &WorkflowUseCase{uc: uc}
	uc.Risk = &RiskUseCase{uc: uc}
	uc.Notification = &NotificationUseCase{uc: uc}
	uc.Sync = &SyncUseCase{uc: uc}
	if uc.Auth == nil {
		uc.Auth = NewNoAuthnUseCase(repo)
	}

	return uc
}

// Repository returns the underlying store
func (uc *UseCases) Repository() interfaces.Repository {
	return uc.repo
}

// TransitionTable returns the workflow in use
func (uc *UseCases) TransitionTable() *model.Workflow {
	return uc.workflow
}

func (uc *UseCases) clock() time.Time {
	return uc.now().UTC()
}
