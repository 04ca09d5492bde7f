package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadworks/loadoor/pkg/docker"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove dangling loadoor containers and volumes",
	Long: `Remove all containers and volumes labeled by containerized engine
runs. Useful after failed runs or an interrupted orchestrator when the
engine runs under a container runtime.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := docker.NewManager(log)
	if err != nil {
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := mgr.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop docker manager")
		}
	}()

	containers, volumes, err := mgr.CleanupManaged(ctx)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"containers": containers,
		"volumes":    volumes,
	}).Info("Cleanup complete")

	return nil
}
