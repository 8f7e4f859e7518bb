package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/cli/config"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var dryRun bool
	repoCfg := config.NewRepository("firestore")

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Print the index plan without applying it (firestore only)",
			Destination: &dryRun,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Prepare the store: Firestore composite indexes or the SQLite schema",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			switch repoCfg.Backend() {
			case "firestore":
				if repoCfg.ProjectID() == "" {
					return goerr.Wrap(config.ErrInvalidConfig, "firestore-project-id is required")
				}
				return migrateFirestore(ctx, repoCfg, dryRun)

			case "sqlite":
				// opening the store creates missing tables and indexes
				repo, err := repoCfg.Configure(ctx)
				if err != nil {
					return goerr.Wrap(err, "failed to migrate sqlite store")
				}
				if err := repo.Close(); err != nil {
					return goerr.Wrap(err, "failed to close sqlite store")
				}
				logger.Info("SQLite schema is up to date")
				return nil

			default:
				return goerr.Wrap(config.ErrInvalidConfig, "nothing to migrate for backend",
					goerr.V(config.BackendKey, repoCfg.Backend()))
			}
		},
	}
}

func migrateFirestore(ctx context.Context, repoCfg *config.Repository, dryRun bool) error {
	logger := logging.Default()
	indexConfig := getIndexConfig(repoCfg.CollectionPrefix())

	client, err := fireconf.NewClient(ctx, repoCfg.ProjectID(), repoCfg.DatabaseID())
	if err != nil {
		return goerr.Wrap(err, "failed to create fireconf client",
			goerr.V("project_id", repoCfg.ProjectID()))
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close fireconf client", "error", err.Error())
		}
	}()

	if !dryRun {
		if err := client.Migrate(ctx, indexConfig); err != nil {
			return goerr.Wrap(err, "failed to apply index migration")
		}
		logger.Info("Firestore indexes applied", "collections", len(indexConfig.Collections))
		return nil
	}

	plan, err := client.GetMigrationPlan(ctx, indexConfig)
	if err != nil {
		return goerr.Wrap(err, "failed to create migration plan")
	}
	if len(plan.Steps) == 0 {
		logger.Info("Firestore indexes are up to date")
		return nil
	}
	for _, step := range plan.Steps {
		logger.Info("Planned index change",
			"collection", step.Collection,
			"operation", step.Operation,
			"description", step.Description,
			"destructive", step.Destructive)
	}
	return nil
}

// getIndexConfig returns the composite indexes needed by the Firestore
// repository. Equality-only queries are served by single-field indexes.
func getIndexConfig(prefix string) *fireconf.Config {
	name := func(collection string) string {
		if prefix == "" {
			return collection
		}
		return prefix + "_" + collection
	}

	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: name("notifications"),
				Indexes: []fireconf.Index{
					// sync export: RecipientID ==, UpdatedAt >
					{
						Fields: []fireconf.IndexField{
							{Path: "RecipientID", Order: fireconf.OrderAscending},
							{Path: "UpdatedAt", Order: fireconf.OrderAscending},
						},
					},
				},
			},
		},
	}
}
