package cli

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	viewerapp "github.com/fmfi-uk/rsscan/app"
	"github.com/fmfi-uk/rsscan/controls"
	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/measure"
	"github.com/fmfi-uk/rsscan/scene"
	"github.com/fmfi-uk/rsscan/scene/headless"
)

type printDisplay struct {
	w io.Writer
}

func (d printDisplay) ShowDistance(meters float64, from, to measure.PickedPoint) {
	printf(d.w, "distance between point %d and point %d: %.4f m", from.Index, to.Index, meters)
}

func (d printDisplay) ClearDistance() {}

func parsePick(s string) (int, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("pick %q must be X,Y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "pick %q", s)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "pick %q", s)
	}
	return x, y, nil
}

// MeasureAction shows the saved scan, picks the given pixels and prints the distances.
func MeasureAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		logger.Sync()
	}()

	type pick struct{ x, y int }
	var picks []pick
	for _, s := range c.StringSlice(flagPick) {
		x, y, err := parsePick(s)
		if err != nil {
			return err
		}
		picks = append(picks, pick{x, y})
	}

	source, err := viewerapp.NewFrameSource(cfg.Camera, logger)
	if err != nil {
		return err
	}
	loop := dispatch.NewLoop(logger)
	scn := headless.NewScene(scene.Viewport{Width: c.Int(flagWidth), Height: c.Int(flagHeight)}, loop, logger)
	viewer, err := viewerapp.New(viewerapp.Options{
		Config:  cfg,
		Source:  source,
		Scene:   scn,
		Poster:  loop,
		Display: printDisplay{c.App.Writer},
	}, logger)
	if err != nil {
		return err
	}

	ctx := c.Context
	runDone := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		runDone <- loop.Run(context.Background())
	})
	defer func() {
		// work queued before Close still runs, so the viewer is closed on the loop
		loop.Post(func() {
			err = multierr.Combine(err, viewer.Close(context.Background()))
		})
		loop.Close()
		err = multierr.Combine(err, <-runDone)
	}()

	var clickErr error
	if err := loop.Do(ctx, func() {
		clickErr = multierr.Combine(
			viewer.Click(ctx, controls.ShowScan),
			viewer.Click(ctx, controls.Measure),
		)
	}); err != nil {
		return err
	}
	if clickErr != nil {
		return clickErr
	}

	for _, p := range picks {
		ev := scene.MouseEvent{Type: scene.MouseButtonDown, X: p.x, Y: p.y, Buttons: scene.ButtonLeft, Modifiers: scene.ModCtrl}
		if err := loop.Do(ctx, func() { scn.DispatchMouse(ev) }); err != nil {
			return err
		}
		// the depth readback was posted behind the click
		if err := loop.Do(ctx, func() {}); err != nil {
			return err
		}
	}

	var summary measure.Summary
	var picked int
	var summaryErr error
	if err := loop.Do(ctx, func() {
		picked = len(viewer.Engine().Picks())
		summary, summaryErr = viewer.Engine().Summary()
	}); err != nil {
		return err
	}
	printf(c.App.Writer, "%d of %d picks hit the scan", picked, len(picks))
	if errors.Is(summaryErr, measure.ErrNoDistances) {
		return nil
	}
	if summaryErr != nil {
		return summaryErr
	}
	printf(c.App.Writer, "%d distances: mean %.4f m, median %.4f m, min %.4f m, max %.4f m, stddev %.4f m",
		summary.Count, summary.Mean, summary.Median, summary.Min, summary.Max, summary.StdDev)
	return nil
}
