package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/moby/moby/client"
)

// BuildImage builds an image from a tar-encoded build context (produced by
// archiving a git checkout) and streams the daemon's build log to onLine as
// it arrives, so the git-deploy pipeline can surface failures without
// waiting for the whole build to finish.
func (c *Client) BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfile string, onLine func(string)) error {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := c.api.ImageBuild(ctx, buildContext, client.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
		PullParent: true,
	})
	if err != nil {
		return fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var buildErr error
	for scanner.Scan() {
		var msg struct {
			Stream      string `json:"stream"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		line := scanner.Bytes()
		if err := json.Unmarshal(line, &msg); err != nil {
			if onLine != nil {
				onLine(string(line))
			}
			continue
		}
		if msg.Stream != "" && onLine != nil {
			onLine(msg.Stream)
		}
		if msg.Error != "" {
			buildErr = fmt.Errorf("docker build: %s", msg.Error)
			if onLine != nil {
				onLine(msg.ErrorDetail.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read build output: %w", err)
	}
	return buildErr
}
