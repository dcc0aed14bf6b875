package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"video-restore/constant"
	"video-restore/gateway"
	"video-restore/repository"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Submit(ctx context.Context, req gateway.SubmitRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) Poll(ctx context.Context, remoteHandle string) (*gateway.RemoteStatus, error) {
	args := m.Called(ctx, remoteHandle)
	rs, _ := args.Get(0).(*gateway.RemoteStatus)
	return rs, args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, remoteHandle string) (bool, error) {
	args := m.Called(ctx, remoteHandle)
	return args.Bool(0), args.Error(1)
}

// manualDispatcher records job ids; tests decide when submissions run.
type manualDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *manualDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *manualDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo       repository.JobRepository
	gw         *mockGateway
	dispatcher *manualDispatcher
	clock      *fakeClock
	orch       Orchestrator
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:       repository.NewMemoryRepo(),
		gw:         &mockGateway{},
		dispatcher: &manualDispatcher{},
		clock:      newFakeClock(),
	}
	f.orch = NewOrchestrator(f.repo, f.gw, NewTierCatalog(nil), f.dispatcher, WithClock(f.clock.Now))
	t.Cleanup(func() { f.gw.AssertExpectations(t) })
	return f
}

func running() *gateway.RemoteStatus {
	return &gateway.RemoteStatus{Kind: constant.RemoteStatusRunning}
}
