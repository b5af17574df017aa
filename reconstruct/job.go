package reconstruct

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Job is a single background run of a pipeline. It is never retried.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	report *Report
	err    error
}

// StartJob runs the pipeline in the background. onDone, if set, runs on the job goroutine once
// the pipeline returned; post from it to reach the UI context.
func StartJob(pipeline Pipeline, onDone func(*Report, error)) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{cancel: cancel, done: make(chan struct{})}
	goutils.PanicCapturingGo(func() {
		defer close(job.done)
		defer cancel()
		report, err := pipeline.Run(ctx)
		job.mu.Lock()
		job.report, job.err = report, err
		job.mu.Unlock()
		if onDone != nil {
			onDone(report, err)
		}
	})
	return job
}

// Cancel stops the running stage. It does not wait.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the report and error of a finished job.
func (j *Job) Result() (*Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report, j.err
}
