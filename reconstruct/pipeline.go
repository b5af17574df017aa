// Package reconstruct runs the offline reconstruction that turns a recorded scan into the
// integrated scene. The reconstruction itself is an external batch job; this package starts
// it, times its stages, and lets the viewer cancel it.
package reconstruct

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/pexec"

	"github.com/fmfi-uk/rsscan/logging"
)

// ErrCanceled is returned when a job was canceled before it finished.
var ErrCanceled = errors.New("reconstruction canceled")

// Stage is one step of the reconstruction.
type Stage struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// DefaultStages are the steps of the reconstruction system, run in order.
var DefaultStages = []Stage{
	{Name: "make fragments", Args: []string{"--make"}},
	{Name: "register fragments", Args: []string{"--register"}},
	{Name: "refine registration", Args: []string{"--refine"}},
	{Name: "integrate scene", Args: []string{"--integrate"}},
}

// Config describes how to run the reconstruction.
type Config struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	CWD     string   `json:"cwd,omitempty"`
	// ConfigPath is passed after the stage arguments.
	ConfigPath string  `json:"config_path,omitempty"`
	Stages     []Stage `json:"stages,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Command == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "command")
	}
	for i, s := range cfg.Stages {
		if s.Name == "" {
			return goutils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.stages.%d", path, i), "name")
		}
	}
	return nil
}

func (cfg *Config) stages() []Stage {
	if len(cfg.Stages) == 0 {
		return DefaultStages
	}
	return cfg.Stages
}

// StageReport is the outcome of one stage.
type StageReport struct {
	Name    string
	Elapsed time.Duration
}

// Report is the outcome of a reconstruction job.
type Report struct {
	JobID  uuid.UUID
	Stages []StageReport
	// Failed names the stage that failed, if any.
	Failed string
}

// Total returns the time spent in every finished stage.
func (r *Report) Total() time.Duration {
	var total time.Duration
	for _, s := range r.Stages {
		total += s.Elapsed
	}
	return total
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reconstruction %s\n", r.JobID)
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "- %-20s %s\n", s.Name, s.Elapsed)
	}
	fmt.Fprintf(&b, "- %-20s %s", "total", r.Total())
	if r.Failed != "" {
		fmt.Fprintf(&b, "\nfailed during %s", r.Failed)
	}
	return b.String()
}

// A Pipeline reconstructs the integrated scene from the recorded dataset.
type Pipeline interface {
	// Run runs every stage once. Canceling ctx stops the running stage.
	Run(ctx context.Context) (*Report, error)
}

// ProcessPipeline runs each stage as a one shot external process.
type ProcessPipeline struct {
	cfg    Config
	logger logging.Logger
	clk    clock.Clock
}

// NewProcessPipeline returns a pipeline for the config. clk may be nil.
func NewProcessPipeline(cfg Config, clk clock.Clock, logger logging.Logger) (*ProcessPipeline, error) {
	if err := cfg.Validate("reconstruction"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &ProcessPipeline{cfg: cfg, logger: logger.Sublogger("reconstruct"), clk: clk}, nil
}

func (p *ProcessPipeline) processConfig(jobID uuid.UUID, stage Stage) pexec.ProcessConfig {
	args := append([]string{}, p.cfg.Args...)
	args = append(args, stage.Args...)
	if p.cfg.ConfigPath != "" {
		args = append(args, p.cfg.ConfigPath)
	}
	return pexec.ProcessConfig{
		ID:      fmt.Sprintf("%s-%s", jobID, strings.ReplaceAll(stage.Name, " ", "-")),
		Name:    p.cfg.Command,
		Args:    args,
		CWD:     p.cfg.CWD,
		OneShot: true,
		Log:     true,
	}
}

// Run implements Pipeline.
func (p *ProcessPipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{JobID: uuid.New()}
	logger := p.logger.Sublogger(report.JobID.String())
	for _, stage := range p.cfg.stages() {
		if ctx.Err() != nil {
			report.Failed = stage.Name
			return report, errors.Wrap(ErrCanceled, ctx.Err().Error())
		}
		logger.Infow("running stage", "stage", stage.Name)
		proc := pexec.NewManagedProcess(p.processConfig(report.JobID, stage), logger.AsZap())
		start := p.clk.Now()
		err := proc.Start(ctx)
		elapsed := p.clk.Since(start)
		if err != nil {
			report.Failed = stage.Name
			if ctx.Err() != nil {
				return report, errors.Wrapf(ErrCanceled, "during %s", stage.Name)
			}
			return report, errors.Wrapf(err, "reconstruction stage %q failed", stage.Name)
		}
		report.Stages = append(report.Stages, StageReport{Name: stage.Name, Elapsed: elapsed})
	}
	logger.Infow("reconstruction finished", "total", report.Total())
	return report, nil
}
