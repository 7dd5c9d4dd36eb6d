package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dbsync/internal/config"
	"dbsync/internal/logger"
	"dbsync/internal/pidfile"
	"dbsync/internal/service"
)

var (
	configPath string
	pidPath    string

	rootCmd = &cobra.Command{
		Use:   "dbsync",
		Short: "Continuous one-way database replication daemon",
		Long:  `dbsync replicates schema, row data and routines from source databases onto target databases, polling for changes without native CDC.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the replication daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running",
		Run: func(cmd *cobra.Command, args []string) {
			if pid, alive := pidfile.Read(pidPath); alive {
				fmt.Printf("dbsync daemon is running (pid %d)\n", pid)
				return
			}
			fmt.Println("dbsync daemon is not running")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		filepath.Join(".", "configs", "config.yml"), "path to the config file")
	rootCmd.PersistentFlags().StringVar(&pidPath,
		"pidfile", filepath.Join(".", ".db-sync", "service.pid"), "path to the pidfile")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

func runDaemon() error {
	store, err := config.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	settings := store.GetSettings()
	if err := logger.Setup(settings.LogLevel, settings.LogDir); err != nil {
		return err
	}

	if err := pidfile.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Remove(pidPath); err != nil {
			logrus.Warnf("Failed to remove pidfile: %v", err)
		}
	}()

	supervisor := service.NewSupervisor(store)
	if err := supervisor.StartAll(); err != nil {
		return err
	}
	logrus.Info("dbsync daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logrus.Infof("Received %s, shutting down", sig)

	supervisor.StopAll()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
