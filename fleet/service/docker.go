package service

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
)

var (
	dockerClient *client.Client
	dockerOnce   sync.Once
	dockerErr    error
)

// Docker returns a process-wide shared Docker client, created on first use.
// The client is thread-safe and reuses connections to the daemon; callers
// must not Close it.
func Docker() (*client.Client, error) {
	dockerOnce.Do(func() {
		dockerClient, dockerErr = newDockerClient()
	})
	return dockerClient, dockerErr
}

// newDockerClient creates a Docker client. If DOCKER_HOST is not set, it
// probes common socket paths so Docker Desktop installs work without extra
// configuration.
func newDockerClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	// Pass a discovered host via client options rather than os.Setenv,
	// which is not concurrent-safe.
	if os.Getenv("DOCKER_HOST") == "" {
		if sock := findDockerSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}

	return client.NewClientWithOpts(opts...)
}

// findDockerSocket returns the first existing Docker socket path, or "".
func findDockerSocket() string {
	candidates := []string{"/var/run/docker.sock"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
