package composer

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"kiln.build/core/composer/config"
	"kiln.build/core/composer/db"
	"kiln.build/core/composer/models"
	"kiln.build/core/log"
	"kiln.build/core/notifier"
)

// ComposeCommand runs a single compose for one release, without the
// bus consumer or the HTTP surface. Useful for debugging a release
// config without waiting for bus traffic.
func ComposeCommand() *cli.Command {
	return &cli.Command{
		Name:      "compose",
		Usage:     "run one compose for a release and exit",
		ArgsUsage: "<release>",
		Action:    composeOnce,
	}
}

func composeOnce(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: kiln compose <release>")
	}

	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	releases, err := config.LoadReleases(cfg.Server.ReleasesPath, cfg.Pipelines)
	if err != nil {
		return fmt.Errorf("failed to load releases: %w", err)
	}

	spec, ok := releases[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRelease, name)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	k, err := newKiln(cfg, releases, d, &n, nil, logger)
	if err != nil {
		return err
	}

	rc, err := models.NewRunContext(spec, "manual")
	if err != nil {
		return err
	}

	if err := k.db.InsertRun(rc, k.n); err != nil {
		rc.Cleanup()
		return fmt.Errorf("recording run: %w", err)
	}

	return k.pipeline.Run(ctx, rc)
}
