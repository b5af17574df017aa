package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	viewerapp "github.com/fmfi-uk/rsscan/app"
	"github.com/fmfi-uk/rsscan/reconstruct"
)

// ReconstructAction runs the configured reconstruction once.
func ReconstructAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()
	if cfg.Reconstruction == nil {
		return errors.New("config has no reconstruction section")
	}
	pipeline, err := reconstruct.NewProcessPipeline(*cfg.Reconstruction, nil, logger)
	if err != nil {
		return err
	}
	report, err := pipeline.Run(c.Context)
	if report != nil {
		printf(c.App.Writer, "%v", report)
	}
	return err
}

// ExportAction writes the saved scan into the destination directory.
func ExportAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()
	dest, err := viewerapp.PCDExporter{Dir: c.String(flagDir), Logger: logger}.Export(c.Context, cfg.ScanPath)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "exported %s to %s", cfg.ScanPath, dest)
	return nil
}
