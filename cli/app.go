// Package cli contains the rsscan command line: streaming, measuring and reconstructing
// without a window.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/fmfi-uk/rsscan/config"
	"github.com/fmfi-uk/rsscan/logging"
)

const (
	// Flags.
	flagConfig = "config"
	flagDebug  = "debug"
	flagFrames = "frames"
	flagPick   = "pick"
	flagWidth  = "width"
	flagHeight = "height"
	flagDir    = "dir"
)

var app = &cli.App{
	Name:            "rsscan",
	Usage:           "stream, measure and reconstruct depth camera scans",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "stream",
			Usage: "stream point clouds from the configured camera and report their sizes",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagFrames,
					Value: 10,
					Usage: "number of clouds to stream before stopping",
				},
			},
			Action: StreamAction,
		},
		{
			Name:      "measure",
			Usage:     "load the saved scan and measure distances between picked pixels",
			ArgsUsage: "--pick x,y --pick x,y ...",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:     flagPick,
					Required: true,
					Usage:    "viewport pixel `X,Y` to pick; every second pick reports a distance",
				},
				&cli.IntFlag{
					Name:  flagWidth,
					Value: 1024,
					Usage: "viewport width in pixels",
				},
				&cli.IntFlag{
					Name:  flagHeight,
					Value: 768,
					Usage: "viewport height in pixels",
				},
			},
			Action: MeasureAction,
		},
		{
			Name:   "reconstruct",
			Usage:  "run the reconstruction pipeline once and print its timing report",
			Action: ReconstructAction,
		},
		{
			Name:  "export",
			Usage: "write the saved scan as a PCD file",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagDir,
					Value: ".",
					Usage: "destination `DIR`",
				},
			},
			Action: ExportAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// setup reads the config named by the global flag and returns a logger at the configured level.
// Logs go to the error writer.
func setup(c *cli.Context) (*config.Config, logging.Logger, error) {
	logger := logging.NewWriterLogger("rsscan", c.App.ErrWriter, logging.INFO)
	cfg := config.Default()
	if fn := c.String(flagConfig); fn != "" {
		var err error
		if cfg, err = config.Read(fn, logger); err != nil {
			return nil, nil, err
		}
	}
	logger.SetLevel(cfg.Level())
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return cfg, logger, nil
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
