package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/run"
	"github.com/matgreaves/run/onexit"
)

// ContainerConfig is the kind-specific config for "container" services.
type ContainerConfig struct {
	// Image is the Docker image reference (e.g. "mock-api:dev"). The image
	// must already be present; devfleet does not pull.
	Image string `json:"image"`

	// Cmd overrides the container's default command. Service args are
	// appended after it.
	Cmd []string `json:"cmd,omitempty"`

	// ContainerPort is the port the service listens on inside the
	// container. Defaults to the service's declared port.
	ContainerPort int `json:"container_port,omitempty"`
}

// ContainerName returns the Docker container name for a fleet service.
func ContainerName(fleetName, serviceName string) string {
	return fmt.Sprintf("devfleet-%s-%s", fleetName, serviceName)
}

// Container implements Kind for the "container" service kind. It runs a
// Docker container with the service's declared port mapped to the host,
// streaming container logs to the service output writers.
type Container struct{}

// Runner returns a run.Runner that creates, starts, and supervises a Docker
// container. The container is stopped and removed on teardown; a non-zero
// container exit surfaces as an *ExitError.
func (Container) Runner(params StartParams) run.Runner {
	var cfg ContainerConfig
	if params.Spec.Config != nil {
		if err := json.Unmarshal(params.Spec.Config, &cfg); err != nil {
			return run.Func(func(context.Context) error {
				return fmt.Errorf("service %q: invalid container config: %w", params.ServiceName, err)
			})
		}
	}

	return run.Func(func(ctx context.Context) error {
		if cfg.Image == "" {
			return fmt.Errorf("service %q: container config missing required \"image\" field", params.ServiceName)
		}

		cli, err := Docker()
		if err != nil {
			return fmt.Errorf("service %q: docker client: %w", params.ServiceName, err)
		}
		if _, err := cli.Ping(ctx); err != nil {
			return fmt.Errorf("service %q: cannot connect to Docker daemon (is Docker running?): %w", params.ServiceName, err)
		}

		config := &container.Config{
			Image: cfg.Image,
			Env:   envMapToSlice(params.Env),
		}
		if len(cfg.Cmd) > 0 || len(params.Args) > 0 {
			config.Cmd = append(append([]string{}, cfg.Cmd...), params.Args...)
		}

		hostConfig := &container.HostConfig{}
		if params.Spec.Port != 0 {
			containerPort := cfg.ContainerPort
			if containerPort == 0 {
				containerPort = params.Spec.Port
			}
			port, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
			if err != nil {
				return fmt.Errorf("service %q: container port: %w", params.ServiceName, err)
			}
			config.ExposedPorts = nat.PortSet{port: struct{}{}}
			hostConfig.PortBindings = nat.PortMap{
				port: []nat.PortBinding{{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(params.Spec.Port),
				}},
			}
		}

		name := ContainerName(params.FleetName, params.ServiceName)
		resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
		if err != nil {
			return fmt.Errorf("service %q: create container: %w", params.ServiceName, err)
		}
		containerID := resp.ID

		// Backup cleanup in case devfleet itself dies ungracefully
		// (SIGKILL, OOM, CI timeout).
		cancelOnexit, _ := onexit.OnExitF("docker rm -f %s", containerID)

		handle := &containerHandle{id: containerID}

		defer func() {
			// The original ctx may already be cancelled; clean up on a
			// background context.
			cleanCtx := context.Background()
			handle.Terminate()
			cli.ContainerRemove(cleanCtx, containerID, container.RemoveOptions{Force: true})
			if cancelOnexit != nil {
				cancelOnexit()
			}
		}()

		if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("service %q: start container: %w", params.ServiceName, err)
		}

		if params.OnStart != nil {
			params.OnStart(handle)
		}

		logReader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			return fmt.Errorf("service %q: attach logs: %w", params.ServiceName, err)
		}

		logDone := make(chan struct{})
		go func() {
			defer close(logDone)
			stdcopy.StdCopy(params.Stdout, params.Stderr, logReader)
			logReader.Close()
		}()

		waitCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

		select {
		case result := <-waitCh:
			<-logDone // drain remaining logs
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if result.StatusCode != 0 {
				return &ExitError{Service: params.ServiceName, Code: int(result.StatusCode)}
			}
			return nil
		case err := <-errCh:
			<-logDone
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("service %q: container wait: %w", params.ServiceName, err)
		case <-ctx.Done():
			<-logDone
			return ctx.Err()
		}
	})
}

// containerHandle stops a Docker container at most once.
type containerHandle struct {
	id   string
	once sync.Once
}

func (h *containerHandle) Terminate() {
	h.once.Do(func() {
		cli, err := Docker()
		if err != nil {
			return
		}
		timeout := int(terminateGrace.Seconds())
		cli.ContainerStop(context.Background(), h.id, container.StopOptions{Timeout: &timeout})
	})
}
