package apps

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/odac-run/odac/internal/docker"
)

// mockDocker implements docker.API for supervisor tests.
type mockDocker struct {
	mu sync.Mutex

	inspectResults map[string]container.InspectResponse
	inspectErr     map[string]error

	stopCalls []string
	stopErr   map[string]error

	removeCalls []string
	removeErr   map[string]error

	createResult  map[string]string // name -> id
	createErr     map[string]error
	createCalls   []string
	createConfigs map[string]*container.Config

	startCalls []string
	startErr   map[string]error

	restartCalls []string
	restartErr   map[string]error

	removeVolCalls []string

	buildCalls []string
	buildErr   error
	buildLines []string
}

func newMockDocker() *mockDocker {
	return &mockDocker{
		inspectResults: make(map[string]container.InspectResponse),
		inspectErr:     make(map[string]error),
		stopErr:        make(map[string]error),
		removeErr:      make(map[string]error),
		createResult:   make(map[string]string),
		createErr:      make(map[string]error),
		createConfigs:  make(map[string]*container.Config),
		startErr:       make(map[string]error),
		restartErr:     make(map[string]error),
	}
}

func (m *mockDocker) ListContainers(_ context.Context) ([]container.Summary, error) { return nil, nil }
func (m *mockDocker) ListAllContainers(_ context.Context) ([]container.Summary, error) {
	return nil, nil
}

func (m *mockDocker) InspectContainer(_ context.Context, id string) (container.InspectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.inspectErr[id]; ok && err != nil {
		return container.InspectResponse{}, err
	}
	return m.inspectResults[id], nil
}

func (m *mockDocker) StopContainer(_ context.Context, id string, _ int) error {
	m.mu.Lock()
	m.stopCalls = append(m.stopCalls, id)
	m.mu.Unlock()
	return m.stopErr[id]
}

func (m *mockDocker) RemoveContainer(_ context.Context, id string) error {
	m.mu.Lock()
	m.removeCalls = append(m.removeCalls, id)
	m.mu.Unlock()
	return m.removeErr[id]
}

func (m *mockDocker) CreateContainer(_ context.Context, name string, cfg *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig) (string, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, name)
	if cfg != nil {
		m.createConfigs[name] = cfg
	}
	m.mu.Unlock()
	if err, ok := m.createErr[name]; ok {
		return "", err
	}
	if id, ok := m.createResult[name]; ok {
		return id, nil
	}
	return "new-" + name, nil
}

func (m *mockDocker) StartContainer(_ context.Context, id string) error {
	m.mu.Lock()
	m.startCalls = append(m.startCalls, id)
	m.mu.Unlock()
	return m.startErr[id]
}

func (m *mockDocker) RestartContainer(_ context.Context, id string) error {
	m.mu.Lock()
	m.restartCalls = append(m.restartCalls, id)
	m.mu.Unlock()
	return m.restartErr[id]
}

func (m *mockDocker) PullImage(_ context.Context, _ string) error            { return nil }
func (m *mockDocker) ImageDigest(_ context.Context, _ string) (string, error) { return "", nil }
func (m *mockDocker) DistributionDigest(_ context.Context, _ string) (string, error) {
	return "", nil
}
func (m *mockDocker) RemoveImage(_ context.Context, _ string) error     { return nil }
func (m *mockDocker) TagImage(_ context.Context, _, _ string) error     { return nil }
func (m *mockDocker) ExecContainer(_ context.Context, _ string, _ []string, _ int) (int, string, error) {
	return 0, "", nil
}
func (m *mockDocker) ContainerLogs(_ context.Context, _ string, _ int) (string, error) {
	return "", nil
}

func (m *mockDocker) StreamContainerLogs(_ context.Context, _ string, _ time.Time) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *mockDocker) RemoveContainerWithVolumes(_ context.Context, id string) error {
	m.mu.Lock()
	m.removeVolCalls = append(m.removeVolCalls, id)
	m.mu.Unlock()
	return nil
}

func (m *mockDocker) BuildImage(_ context.Context, tag string, buildContext io.Reader, _ string, onLine func(string)) error {
	m.mu.Lock()
	m.buildCalls = append(m.buildCalls, tag)
	m.mu.Unlock()
	if buildContext != nil {
		_, _ = io.Copy(io.Discard, buildContext)
	}
	for _, line := range m.buildLines {
		onLine(line)
	}
	return m.buildErr
}

func (m *mockDocker) ListImages(_ context.Context) ([]docker.ImageSummary, error) { return nil, nil }
func (m *mockDocker) PruneImages(_ context.Context) (docker.ImagePruneResult, error) {
	return docker.ImagePruneResult{}, nil
}
func (m *mockDocker) RemoveImageByID(_ context.Context, _ string) error { return nil }

func (m *mockDocker) Close() error { return nil }

var _ docker.API = (*mockDocker)(nil)

// mockClock implements clock.Clock for deterministic tests. After returns
// immediately so polling loops under test don't actually sleep.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{now: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *mockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// noopProxy implements ProxySync and records trigger reasons.
type noopProxy struct {
	mu      sync.Mutex
	reasons []string
}

func (p *noopProxy) Trigger(reason string) {
	p.mu.Lock()
	p.reasons = append(p.reasons, reason)
	p.mu.Unlock()
}

func (p *noopProxy) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reasons...)
}
