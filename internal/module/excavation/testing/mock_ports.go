package testing

import (
	"context"
	"sync"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// MockRepositoryAccessor はテスト用のモックRepositoryAccessorです
type MockRepositoryAccessor struct {
	ValidateFunc func(reference string) error
	AcquireFunc  func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error)
}

func (m *MockRepositoryAccessor) Validate(reference string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(reference)
	}
	return nil
}

func (m *MockRepositoryAccessor) Acquire(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, reference, opts)
	}
	return &MockWorkspace{}, nil
}

// MockWorkspace はテスト用のモックWorkspaceです
// Release の呼び出し回数を記録する
type MockWorkspace struct {
	UnitsFunc   func(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error)
	RefFunc     func() string
	ReleaseFunc func() error

	mu       sync.Mutex
	released int
}

func (m *MockWorkspace) Units(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error) {
	if m.UnitsFunc != nil {
		return m.UnitsFunc(ctx, opts)
	}
	return nil, nil
}

func (m *MockWorkspace) Ref() string {
	if m.RefFunc != nil {
		return m.RefFunc()
	}
	return "HEAD"
}

func (m *MockWorkspace) Release() error {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc()
	}
	return nil
}

// Released は Release が呼ばれた回数を返します
func (m *MockWorkspace) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// MockSynthesizer はテスト用のモックSynthesizerです
type MockSynthesizer struct {
	GenerateJSONFunc func(ctx context.Context, prompt string, v any) error
	CountTokensFunc  func(ctx context.Context, text string) int
	ModelFunc        func() string
}

func (m *MockSynthesizer) GenerateJSON(ctx context.Context, prompt string, v any) error {
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, v)
	}
	return nil
}

func (m *MockSynthesizer) CountTokens(ctx context.Context, text string) int {
	if m.CountTokensFunc != nil {
		return m.CountTokensFunc(ctx, text)
	}
	return (len([]rune(text)) + 3) / 4
}

func (m *MockSynthesizer) Model() string {
	if m.ModelFunc != nil {
		return m.ModelFunc()
	}
	return "mock-model"
}

// MockEventRecorder は追加されたイベントを記録するモックです
type MockEventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *MockEventRecorder) Add(event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events は記録されたイベントを追加順に返します
func (m *MockEventRecorder) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

// Types は記録されたイベント種別を追加順に返します
func (m *MockEventRecorder) Types() []domain.EventType {
	var types []domain.EventType
	for _, e := range m.Events() {
		types = append(types, e.Type)
	}
	return types
}

// MockJobStore は JobStore をラップし、呼び出しごとに差し込みができるモックです
// Func が nil の場合は Next に委譲する
type MockJobStore struct {
	Next       domain.JobStore
	CreateFunc func(ctx context.Context, spec domain.JobSpec) (*domain.Job, error)
	GetFunc    func(ctx context.Context, id string) (*domain.Job, error)
	UpdateFunc func(ctx context.Context, id string, patch domain.JobPatch) error
	ListFunc   func(ctx context.Context) ([]domain.JobSummary, error)
}

func (m *MockJobStore) Create(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, spec)
	}
	return m.Next.Create(ctx, spec)
}

func (m *MockJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return m.Next.Get(ctx, id)
}

func (m *MockJobStore) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return m.Next.Update(ctx, id, patch)
}

func (m *MockJobStore) List(ctx context.Context) ([]domain.JobSummary, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return m.Next.List(ctx)
}
