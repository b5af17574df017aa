package app

import (
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/controls"
	"github.com/fmfi-uk/rsscan/reconstruct"
)

// toggleScan starts the reconstruction, or cancels it when the scan is finished early.
func (v *Viewer) toggleScan(next *controls.State) error {
	if next.Stream != controls.Scanning {
		if v.job != nil {
			v.logger.Info("finishing scan")
			v.job.Cancel()
		}
		return nil
	}
	if v.pipeline == nil {
		return ErrNoPipeline
	}
	if v.job != nil {
		select {
		case <-v.job.Done():
		default:
			return errors.New("previous reconstruction is still running")
		}
	}
	var job *reconstruct.Job
	job = reconstruct.StartJob(v.pipeline, func(report *reconstruct.Report, err error) {
		v.poster.Post(func() { v.onScanDone(job, report, err) })
	})
	v.job = job
	v.logger.Info("scanning")
	return nil
}

func (v *Viewer) onScanDone(job *reconstruct.Job, report *reconstruct.Report, err error) {
	if job != v.job {
		return
	}
	v.job = nil
	if report != nil {
		v.logger.Infof("%v", report)
	}
	switch {
	case errors.Is(err, reconstruct.ErrCanceled):
		v.logger.Info("scan canceled")
	case err != nil:
		v.logger.Errorw("scan failed", "error", err)
	default:
		v.logger.Infow("scan finished", "scan_path", v.cfg.ScanPath)
	}
	if v.state.Stream == controls.Scanning {
		v.state.Stream = controls.Streaming
	}
}

// ScanJob returns the running reconstruction, if any.
func (v *Viewer) ScanJob() *reconstruct.Job {
	return v.job
}
