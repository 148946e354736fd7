package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/edgevision/triage-server/internal/config"
	"github.com/edgevision/triage-server/internal/coordinator"
	"github.com/edgevision/triage-server/internal/importer"
	"github.com/edgevision/triage-server/internal/labelstudio"
	"github.com/edgevision/triage-server/internal/objstore"
	"github.com/edgevision/triage-server/internal/retrain"
	"github.com/edgevision/triage-server/internal/store"
)

// The job subcommands run a single pass of one background job and exit.
// They share the coordinator's job wiring so a cron-driven deployment
// behaves exactly like the long-running server.

var syncStorageCmd = &cobra.Command{
	Use:   "sync-storage",
	Short: "Run one storage sync against the annotation tool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJobOnce(cmd, func(deps *jobDeps) coordinator.Job {
			return coordinator.NewStorageSyncJob(deps.tool, deps.records, 0)
		})
	},
}

var importAnnotationsCmd = &cobra.Command{
	Use:   "import-annotations",
	Short: "Run one annotation import pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJobOnce(cmd, func(deps *jobDeps) coordinator.Job {
			manager := importer.NewManager(deps.objects, deps.records, deps.tool)
			return coordinator.NewImportJob(manager, 0)
		})
	},
}

var checkRetrainCmd = &cobra.Command{
	Use:   "check-retrain",
	Short: "Run one retraining-threshold check",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJobOnce(cmd, func(deps *jobDeps) coordinator.Job {
			session := retrain.NewSessionProvider(deps.cfg.Retraining.PresignEndpoint)
			trigger := retrain.NewTrigger(deps.objects, deps.records, session,
				deps.cfg.Retraining.Threshold,
				deps.cfg.Retraining.NotebookPath,
				deps.cfg.Retraining.KernelName,
				deps.cfg.Retraining.ExecutionTimeout)
			return coordinator.NewRetrainCheckJob(trigger, 0)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{syncStorageCmd, importAnnotationsCmd, checkRetrainCmd} {
		cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
		if err := cmd.MarkFlagRequired("config"); err != nil {
			slog.Error("Failed to mark config flag as required", "error", err)
			os.Exit(1)
		}
	}
}

type jobDeps struct {
	cfg     *config.Config
	records *store.Store
	objects objstore.Store
	tool    labelstudio.Client
}

func runJobOnce(cmd *cobra.Command, build func(deps *jobDeps) coordinator.Job) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to read config flag: %w", err)
	}

	deps, err := buildJobDeps(configPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.records.Close()
	}()

	job := build(deps)
	slog.Info("Running job", "job", job.Name)
	if err := job.Run(cmd.Context()); err != nil {
		return fmt.Errorf("job %s failed: %w", job.Name, err)
	}
	return nil
}

func buildJobDeps(configPath string) (*jobDeps, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	records, err := store.Open(filepath.Join(dataDir, "records.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	objects, err := objstore.New(objstore.Options{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	tool := labelstudio.NewClient(labelstudio.Options{
		BaseURL:     cfg.LabelStudio.BaseURL,
		APIKey:      cfg.LabelStudio.APIKey,
		ProjectID:   cfg.LabelStudio.ProjectID,
		StorageType: cfg.LabelStudio.StorageType,
		StorageID:   cfg.LabelStudio.StorageID,
	})

	return &jobDeps{cfg: cfg, records: records, objects: objects, tool: tool}, nil
}
