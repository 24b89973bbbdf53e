package proxysync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/odac-run/odac/internal/docker"
)

// fakeDocker implements docker.API, returning a canned inspect result per
// container ID; every other method is unused by Proxy Sync and just
// errors loudly if ever called.
type fakeDocker struct {
	inspect map[string]container.InspectResponse
}

var _ docker.API = (*fakeDocker)(nil)

func (f *fakeDocker) InspectContainer(ctx context.Context, id string) (container.InspectResponse, error) {
	if r, ok := f.inspect[id]; ok {
		return r, nil
	}
	return container.InspectResponse{}, fmt.Errorf("no such container: %s", id)
}

func (f *fakeDocker) ListContainers(ctx context.Context) ([]container.Summary, error) { return nil, nil }
func (f *fakeDocker) ListAllContainers(ctx context.Context) ([]container.Summary, error) {
	return nil, nil
}
func (f *fakeDocker) StopContainer(ctx context.Context, id string, timeout int) error { return nil }
func (f *fakeDocker) RemoveContainer(ctx context.Context, id string) error            { return nil }
func (f *fakeDocker) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig) (string, error) {
	return "", nil
}
func (f *fakeDocker) StartContainer(ctx context.Context, id string) error   { return nil }
func (f *fakeDocker) RestartContainer(ctx context.Context, id string) error { return nil }
func (f *fakeDocker) PullImage(ctx context.Context, refStr string) error    { return nil }
func (f *fakeDocker) ImageDigest(ctx context.Context, imageRef string) (string, error) {
	return "", nil
}
func (f *fakeDocker) DistributionDigest(ctx context.Context, imageRef string) (string, error) {
	return "", nil
}
func (f *fakeDocker) RemoveImage(ctx context.Context, id string) error    { return nil }
func (f *fakeDocker) TagImage(ctx context.Context, src, target string) error { return nil }
func (f *fakeDocker) RemoveContainerWithVolumes(ctx context.Context, id string) error { return nil }
func (f *fakeDocker) ExecContainer(ctx context.Context, id string, cmd []string, timeout int) (int, string, error) {
	return 0, "", nil
}
func (f *fakeDocker) ContainerLogs(ctx context.Context, id string, lines int) (string, error) {
	return "", nil
}
func (f *fakeDocker) StreamContainerLogs(ctx context.Context, id string, since time.Time) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeDocker) BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfile string, onLine func(string)) error {
	return nil
}
func (f *fakeDocker) ListImages(ctx context.Context) ([]docker.ImageSummary, error) { return nil, nil }
func (f *fakeDocker) PruneImages(ctx context.Context) (docker.ImagePruneResult, error) {
	return docker.ImagePruneResult{}, nil
}
func (f *fakeDocker) RemoveImageByID(ctx context.Context, id string) error { return nil }
func (f *fakeDocker) Close() error                                        { return nil }
