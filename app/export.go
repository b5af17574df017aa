package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/pointcloud"
)

// An Exporter saves the scan in a format of the user's choice and returns where it was written.
// Choosing the destination is up to the exporter.
type Exporter interface {
	Export(ctx context.Context, scanPath string) (string, error)
}

// PCDExporter writes the scan as a binary PCD file into Dir.
type PCDExporter struct {
	Dir    string
	Logger logging.Logger
}

// Export implements Exporter.
func (e PCDExporter) Export(ctx context.Context, scanPath string) (string, error) {
	cloud, err := pointcloud.NewFromFile(scanPath, e.Logger)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(scanPath), filepath.Ext(scanPath)) + ".pcd"
	dest := filepath.Join(e.Dir, name)
	if err := pointcloud.WriteToPCDFile(cloud, dest); err != nil {
		return "", errors.Wrapf(err, "cannot write %q", dest)
	}
	return dest, nil
}

// export runs the exporter in the background.
func (v *Viewer) export() error {
	if v.exporter == nil {
		return ErrNoExporter
	}
	scanPath := v.cfg.ScanPath
	v.workers.AddWorkers(func(ctx context.Context) {
		dest, err := v.exporter.Export(ctx, scanPath)
		if err != nil {
			v.logger.Errorw("export failed", "scan_path", scanPath, "error", err)
			return
		}
		v.logger.Infow("exported scan", "dest", dest)
	})
	return nil
}
