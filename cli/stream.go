package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	viewerapp "github.com/fmfi-uk/rsscan/app"
	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/scene"
	"github.com/fmfi-uk/rsscan/scene/headless"
	"github.com/fmfi-uk/rsscan/stream"
)

// StreamAction streams clouds from the configured camera until enough were shown.
func StreamAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()
	frames := c.Int(flagFrames)
	if frames <= 0 {
		return errors.Errorf("--%s must be positive", flagFrames)
	}

	source, err := viewerapp.NewFrameSource(cfg.Camera, logger)
	if err != nil {
		return err
	}
	loop := dispatch.NewLoop(logger)
	scn := headless.NewScene(scene.Viewport{Width: 640, Height: 480}, loop, logger)

	shown := 0
	depth, color := cfg.Camera.Profiles()
	var ctrl *stream.Controller
	ctrl = stream.NewController(source, scn, loop, stream.Config{
		Depth: depth,
		Color: color,
		OnCloud: func(cloud *pointcloud.PointCloud) {
			if shown == frames {
				return
			}
			shown++
			center := cloud.MetaData().Center()
			printf(c.App.Writer, "cloud %d: %d points, center (%.3f, %.3f, %.3f)", shown, cloud.Size(), center.X, center.Y, center.Z)
			if shown == frames {
				ctrl.Stop()
			}
		},
	}, logger)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	runDone := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		runDone <- loop.Run(ctx)
	})
	defer func() {
		loop.Close()
		<-runDone
		built, dropped := ctrl.Frames()
		printf(c.App.Writer, "built %d clouds, skipped %d frame pairs", built, dropped)
	}()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctrl.Done():
		return nil
	case <-ctx.Done():
		return multierr.Combine(ctx.Err(), ctrl.Close(context.Background()))
	}
}
