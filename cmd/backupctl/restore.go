package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/restore"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	restoreSelector string
	restoreYes      bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [database|files|monitoring|full|list] [artifact-path]",
	Short: "Restore a deployment from backup artifacts",
	Long: `Restore one domain (or all of them) from a backup artifact:
locate the artifact (local first, offsite second), verify its checksum,
decrypt it, stop the dependent service, apply it, restart the service,
and poll the health endpoint.

"list" prints restore candidates without changing anything.
"full" restores database, files, and monitoring in sequence.

By default restore asks for confirmation before mutating any state; pass
--yes for scripted restores.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVar(&restoreSelector, "at", models.SelectorLatest,
		`artifact selector: "latest" or a date pattern matched against filenames`)
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false,
		"skip the confirmation prompt (required for scripted restores)")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	attachOperationLog(cfg.Backup.Root)

	ctx := context.Background()

	remote, err := buildRemote(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up offsite storage")
		return err
	}

	if args[0] == "list" {
		return listCandidates(ctx, cfg, remote)
	}

	var domains []models.Domain
	if args[0] == "full" {
		domains = models.AllDomains()
	} else {
		domain, err := models.ParseDomain(args[0])
		if err != nil {
			return err
		}
		domains = []models.Domain{domain}
	}

	artifactPath := ""
	if len(args) == 2 {
		artifactPath = args[1]
	}
	if artifactPath != "" && len(domains) > 1 {
		return fmt.Errorf("an explicit artifact path cannot be combined with a full restore")
	}

	restoreSvc := restore.New(log.Logger, *cfg, remote)

	for _, domain := range domains {
		req := models.RestoreRequest{
			Domain:       domain,
			Selector:     restoreSelector,
			ArtifactPath: artifactPath,
		}

		run, err := restoreSvc.Restore(ctx, *cfg, req, restore.Options{AutoConfirm: restoreYes})
		if err != nil {
			log.Error().
				Err(err).
				Str("domain", string(domain)).
				Str("state", string(run.State)).
				Str("kind", string(models.KindOf(err))).
				Msg("restore failed")
			return err
		}

		fmt.Printf("Restore of %s completed (artifact: %s)\n", domain, filepath.Base(run.ArtifactPath))
	}

	return nil
}

func listCandidates(ctx context.Context, cfg *models.Config, remote store.ObjectStore) error {
	storeSvc := store.New(log.Logger, cfg.Backup.Root, remote)

	for _, domain := range models.AllDomains() {
		fmt.Printf("%s:\n", domain)

		local, err := storeSvc.ListLocal(domain)
		if err != nil {
			return err
		}
		for _, artifact := range local {
			fmt.Printf("  local   %s  %s  %s\n",
				artifact.CreatedAt.Format("2006-01-02 15:04:05"),
				models.HumanSize(artifact.SizeBytes),
				filepath.Base(artifact.Path))
		}

		remoteObjs, err := storeSvc.ListRemote(ctx, domain)
		if err != nil {
			return err
		}
		for _, obj := range remoteObjs {
			fmt.Printf("  offsite %s  %s  %s\n",
				obj.CreatedAt.Format("2006-01-02 15:04:05"),
				models.HumanSize(obj.SizeBytes),
				obj.Key)
		}

		if len(local) == 0 && len(remoteObjs) == 0 {
			fmt.Println("  (no artifacts)")
		}
	}

	return nil
}
