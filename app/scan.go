package app

import (
	"context"
	"path/filepath"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/fmfi-uk/rsscan/controls"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/scene"
	"github.com/fmfi-uk/rsscan/utils"
)

func scanMaterial() scene.Material {
	mat := scene.DefaultPointMaterial()
	mat.PointSize = ScanPointSize
	return mat
}

func (v *Viewer) toggleSavedScan(next *controls.State) error {
	if !next.ShowingScan {
		v.hideScan(next)
		return nil
	}
	cloud, err := pointcloud.NewFromFile(v.cfg.ScanPath, v.logger)
	if err != nil {
		return errors.Wrapf(err, "cannot load scan %q", v.cfg.ScanPath)
	}
	if err := v.scene.AddGeometry(scene.SavedScanGeometry, scene.NewCloudGeometry(cloud), scanMaterial()); err != nil {
		return err
	}
	v.scan = cloud
	v.scanGen++
	v.logger.Infow("showing scan", "path", v.cfg.ScanPath, "points", cloud.Size())
	if err := v.watchScan(v.scanGen); err != nil {
		v.logger.Warnw("scan will not be reloaded on change", "error", err)
	}
	return nil
}

func (v *Viewer) hideScan(next *controls.State) {
	v.stopWatching()
	v.scanGen++
	if v.target == measureScan {
		v.stopMeasuring(next)
	}
	v.scene.RemoveGeometry(scene.SavedScanGeometry)
	v.scan = nil
}

// watchScan reloads the scan whenever its file settles after a change. The directory is
// watched because the reconstruction replaces the file rather than writing it in place.
func (v *Viewer) watchScan(gen int) error {
	v.stopWatching()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	path := filepath.Clean(v.cfg.ScanPath)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return multierr.Combine(err, watcher.Close())
	}

	debounced := debounce.New(v.delay)
	v.watch = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer func() {
			if err := watcher.Close(); err != nil {
				v.logger.Debugw("closing scan watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				debounced(func() { v.reloadScan(ctx, gen) })
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				v.logger.Warnw("watching scan", "error", err)
			}
		}
	})
	return nil
}

// reloadScan runs off the UI context; only the swap is posted.
func (v *Viewer) reloadScan(ctx context.Context, gen int) {
	if ctx.Err() != nil {
		return
	}
	cloud, err := pointcloud.NewFromFile(v.cfg.ScanPath, v.logger)
	if err != nil {
		v.logger.Debugw("scan changed but cannot be read yet", "error", err)
		return
	}
	v.poster.Post(func() { v.swapScan(gen, cloud) })
}

func (v *Viewer) swapScan(gen int, cloud *pointcloud.PointCloud) {
	if gen != v.scanGen || !v.state.ShowingScan {
		return
	}
	v.scene.RemoveGeometry(scene.SavedScanGeometry)
	if err := v.scene.AddGeometry(scene.SavedScanGeometry, scene.NewCloudGeometry(cloud), scanMaterial()); err != nil {
		v.logger.Warnw("cannot show reloaded scan", "error", err)
		return
	}
	v.scan = cloud
	v.logger.Infow("reloaded scan", "points", cloud.Size())
	if v.target == measureScan {
		v.engine.Activate(cloud)
	}
}

func (v *Viewer) stopWatching() {
	if v.watch == nil {
		return
	}
	v.watch.Stop()
	v.watch = nil
}
