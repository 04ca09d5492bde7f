package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// ManagedByLabel marks containers and volumes created by containerized
// engine runs so the cleanup command can find them.
const ManagedByLabel = "loadoor.managed-by=loadoor"

// Manager handles Docker cleanup operations for containerized engine runs.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error

	// Container operations.
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error

	// Volume operations.
	RemoveVolume(ctx context.Context, name string) error

	// Cleanup operations.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	ListVolumes(ctx context.Context) ([]VolumeInfo, error)

	// CleanupManaged stops and removes every labeled container and volume.
	// Returns the number of containers and volumes removed.
	CleanupManaged(ctx context.Context) (int, int, error)
}

// ContainerInfo contains information about a container for cleanup.
type ContainerInfo struct {
	ID     string
	Name   string
	Labels map[string]string
}

// VolumeInfo contains information about a volume for cleanup.
type VolumeInfo struct {
	Name   string
	Labels map[string]string
}

// NewManager creates a new Docker manager.
func NewManager(log logrus.FieldLogger) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &manager{
		log:    log.WithField("component", "docker"),
		client: cli,
	}, nil
}

type manager struct {
	log    logrus.FieldLogger
	client *client.Client
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// Start initializes the Docker manager.
func (m *manager) Start(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("connecting to docker daemon: %w", err)
	}

	m.log.Debug("Connected to Docker daemon")

	return nil
}

// Stop cleans up the Docker manager.
func (m *manager) Stop() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing docker client: %w", err)
	}

	return nil
}

// StopContainer stops a container.
func (m *manager) StopContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stopping container %s: %w", containerID[:12], err)
	}

	m.log.WithField("id", containerID[:12]).Debug("Stopped container")

	return nil
}

// RemoveContainer removes a container.
func (m *manager) RemoveContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("removing container %s: %w", containerID[:12], err)
	}

	m.log.WithField("id", containerID[:12]).Debug("Removed container")

	return nil
}

// RemoveVolume removes a Docker volume.
func (m *manager) RemoveVolume(ctx context.Context, name string) error {
	if err := m.client.VolumeRemove(ctx, name, true); err != nil {
		return fmt.Errorf("removing volume %s: %w", name, err)
	}

	m.log.WithField("volume", name).Info("Removed volume")

	return nil
}

// ListContainers returns all containers managed by loadoor.
func (m *manager) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", ManagedByLabel),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}

		result = append(result, ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Labels: c.Labels,
		})
	}

	return result, nil
}

// ListVolumes returns all volumes managed by loadoor.
func (m *manager) ListVolumes(ctx context.Context) ([]VolumeInfo, error) {
	volumes, err := m.client.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", ManagedByLabel),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("listing volumes: %w", err)
	}

	result := make([]VolumeInfo, 0, len(volumes.Volumes))
	for _, v := range volumes.Volumes {
		result = append(result, VolumeInfo{
			Name:   v.Name,
			Labels: v.Labels,
		})
	}

	return result, nil
}

// CleanupManaged stops and removes every labeled container, then removes
// every labeled volume. Individual failures are logged and skipped so a
// single stuck resource does not block the rest of the sweep.
func (m *manager) CleanupManaged(ctx context.Context) (int, int, error) {
	containers, err := m.ListContainers(ctx)
	if err != nil {
		return 0, 0, err
	}

	removedContainers := 0

	for _, c := range containers {
		log := m.log.WithField("container", c.Name)

		if err := m.StopContainer(ctx, c.ID); err != nil {
			log.WithError(err).Warn("Failed to stop container")
		}

		if err := m.RemoveContainer(ctx, c.ID); err != nil {
			log.WithError(err).Warn("Failed to remove container")

			continue
		}

		removedContainers++
	}

	volumes, err := m.ListVolumes(ctx)
	if err != nil {
		return removedContainers, 0, err
	}

	removedVolumes := 0

	for _, v := range volumes {
		if err := m.RemoveVolume(ctx, v.Name); err != nil {
			m.log.WithField("volume", v.Name).WithError(err).Warn("Failed to remove volume")

			continue
		}

		removedVolumes++
	}

	return removedContainers, removedVolumes, nil
}
