package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/repository/memory"
	"github.com/secmon-lab/changegate/pkg/usecase"
)

var (
	requester  = auth.Actor{ID: "alice", Role: types.RoleUser}
	otherUser  = auth.Actor{ID: "bob", Role: types.RoleUser}
	technician = auth.Actor{ID: "tom", Role: types.RoleTechnician}
	otherTech  = auth.Actor{ID: "tina", Role: types.RoleTechnician}
	admin      = auth.Actor{ID: "root", Role: types.RoleAdmin}
)

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo  *memory.Memory
	uc    *usecase.UseCases
	clock *testClock
}

func newFixture(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, memory.New(), opts...)
}

// newDeviceFixture builds a device-local store whose tickets are provisional
func newDeviceFixture(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, memory.New(memory.WithProvisionalTickets()), opts...)
}

func newFixtureWithRepo(t *testing.T, repo *memory.Memory, opts ...usecase.Option) *fixture {
	t.Helper()
	clock := newTestClock(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	opts = append([]usecase.Option{usecase.WithClock(clock.Now)}, opts...)
	return &fixture{
		repo:  repo,
		uc:    usecase.New(repo, opts...),
		clock: clock,
	}
}

func validForm() usecase.ChangeRequestForm {
	scheduled := time.Date(2024, 1, 20, 22, 0, 0, 0, time.UTC)
	return usecase.ChangeRequestForm{
		Classification:     types.ChangeClassMinor,
		Title:              "Replace core switch",
		Justification:      "End of support",
		Purpose:            "Keep the network supported",
		AffectedAssets:     "sw-core-01",
		ImplementationPlan: "Swap during maintenance window",
		RollbackPlan:       "Reinstall the old switch",
		ScheduledAt:        &scheduled,
	}
}

func (f *fixture) submit(t *testing.T, actor auth.Actor) *model.ChangeRequest {
	t.Helper()
	cr, err := f.uc.ChangeRequest.Create(context.Background(), actor, validForm())
	gt.NoError(t, err).Required()
	return cr
}

// walk applies transitions in order, advancing the clock a minute before each
func (f *fixture) walk(t *testing.T, id types.ChangeRequestID, steps ...step) {
	t.Helper()
	for _, s := range steps {
		f.clock.Advance(time.Minute)
		if s.to == types.ChangeStatusApproved {
			_, err := f.uc.Risk.Assess(context.Background(), id, s.actor, 2, 2, 2)
			gt.NoError(t, err).Required()
		}
		_, err := f.uc.Workflow.Transition(context.Background(), id, s.to, s.actor, "")
		gt.NoError(t, err).Required()
	}
}

type step struct {
	to    types.ChangeStatus
	actor auth.Actor
}

type recordingBroker struct {
	mu        sync.Mutex
	published []*model.Notification
}

func (b *recordingBroker) Publish(ctx context.Context, n *model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, n)
	return nil
}

func (b *recordingBroker) Subscribe(ctx context.Context, userID types.UserID) (<-chan *model.Notification, func(), error) {
	ch := make(chan *model.Notification)
	return ch, func() {}, nil
}

func (b *recordingBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type channelNotifier struct {
	ch chan *model.ApprovalHistory
}

func (n *channelNotifier) NotifyTransition(ctx context.Context, cr *model.ChangeRequest, h *model.ApprovalHistory) error {
	n.ch <- h
	return nil
}
