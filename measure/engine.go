// Package measure turns clicks on the viewer into snapped 3D picks and distances between them.
package measure

import (
	"fmt"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/pointcloud"
	"github.com/fmfi-uk/rsscan/scene"
)

// State is whether the engine reacts to clicks.
type State int

// Engine states.
const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// DefaultMarkerRadius is the radius of pick markers in meters.
const DefaultMarkerRadius = 0.005

// PickedPoint is a cloud point chosen by the user.
type PickedPoint struct {
	Index    int
	Position r3.Vector
}

// DistanceDisplay shows the distance between the two most recent picks.
type DistanceDisplay interface {
	ShowDistance(meters float64, from, to PickedPoint)
	ClearDistance()
}

// Config holds how picks are drawn.
type Config struct {
	MarkerRadius   float64
	MarkerMaterial scene.Material
}

// MarkerName returns the geometry name of the marker for the pick at the given stack depth.
func MarkerName(depth int) string {
	return fmt.Sprintf("marker_%d", depth)
}

// PickEngine owns the pick stack and the spatial index of the measured cloud. Every method runs
// on the UI context, so the engine needs no locking.
type PickEngine struct {
	logger  logging.Logger
	scene   scene.Scene
	display DistanceDisplay
	cfg     Config

	state State
	index *pointcloud.KDTree
	stack []PickedPoint
	// generation changes on every activation so readbacks requested earlier are dropped
	generation int
	pending    bool
	distances  []float64
}

// NewPickEngine returns an inactive engine. display may be nil.
func NewPickEngine(scn scene.Scene, display DistanceDisplay, cfg Config, logger logging.Logger) *PickEngine {
	if cfg.MarkerRadius <= 0 {
		cfg.MarkerRadius = DefaultMarkerRadius
	}
	if cfg.MarkerMaterial == (scene.Material{}) {
		cfg.MarkerMaterial = scene.Material{Shader: scene.ShaderLit, BaseColor: color.NRGBA{255, 0, 0, 255}}
	}
	return &PickEngine{
		logger:  logger.Sublogger("measure"),
		scene:   scn,
		display: display,
		cfg:     cfg,
	}
}

// State returns whether the engine is measuring.
func (e *PickEngine) State() State {
	return e.state
}

// Activate starts measuring on cloud. An active engine is reset first, so the index always
// belongs to the cloud that was activated last.
func (e *PickEngine) Activate(cloud *pointcloud.PointCloud) {
	if e.state == Active {
		e.reset()
	}
	e.generation++
	e.index = pointcloud.ToKDTree(cloud)
	e.state = Active
	e.scene.SetOnMouse(e.HandleMouse)
	e.logger.Infow("measuring", "points", cloud.Size())
}

// Deactivate stops measuring, removes every marker and forgets the index.
func (e *PickEngine) Deactivate() {
	if e.state == Inactive {
		return
	}
	e.reset()
	e.generation++
	e.state = Inactive
	e.scene.SetOnMouse(nil)
	e.scene.ForceRedraw()
	e.logger.Info("stopped measuring")
}

func (e *PickEngine) reset() {
	for i := len(e.stack); i > 0; i-- {
		e.scene.RemoveGeometry(MarkerName(i))
	}
	e.stack = nil
	e.index = nil
	e.pending = false
	e.distances = nil
	if e.display != nil {
		e.display.ClearDistance()
	}
}

// Cloud returns the cloud being measured, or nil when inactive.
func (e *PickEngine) Cloud() *pointcloud.PointCloud {
	if e.index == nil {
		return nil
	}
	return e.index.Cloud()
}

// Picks returns a copy of the pick stack, oldest first.
func (e *PickEngine) Picks() []PickedPoint {
	return append([]PickedPoint(nil), e.stack...)
}

// Pending reports whether a depth readback is outstanding.
func (e *PickEngine) Pending() bool {
	return e.pending
}

// HandleMouse is the scene pointer handler. Ctrl with the left button picks, Ctrl with the
// right button undoes the last pick.
func (e *PickEngine) HandleMouse(ev scene.MouseEvent) scene.EventResult {
	if e.state != Active || !ev.IsModifierDown(scene.ModCtrl) {
		return scene.EventIgnored
	}
	switch {
	case ev.IsButtonDown(scene.ButtonLeft):
		e.Select(ev.X, ev.Y)
		return scene.EventConsumed
	case ev.IsButtonDown(scene.ButtonRight):
		e.Undo()
		return scene.EventConsumed
	default:
		return scene.EventIgnored
	}
}

// Select requests a depth readback and picks the cloud point under the pixel when it arrives.
// The camera and viewport are captured now, so moving the view before the readback completes
// does not change the result. Selects are ignored while a readback is outstanding.
func (e *PickEngine) Select(x, y int) {
	if e.state != Active {
		return
	}
	if e.pending {
		e.logger.Debugw("pick in progress, ignoring select", "x", x, "y", y)
		return
	}
	e.pending = true
	generation := e.generation
	cam := e.scene.Camera()
	vp := e.scene.Viewport()
	e.scene.RenderToDepthImage(func(img *scene.DepthImage) {
		e.completeSelect(generation, cam, vp, x, y, img)
	})
}

func (e *PickEngine) completeSelect(generation int, cam scene.Camera, vp scene.Viewport, x, y int, img *scene.DepthImage) {
	if generation != e.generation {
		e.logger.Debug("dropping readback from a previous measurement")
		return
	}
	e.pending = false

	depth := img.At(x, y)
	if depth >= scene.NoGeometryDepth {
		return
	}
	world, err := cam.Unproject(float64(x), float64(y), float64(depth), vp.Width, vp.Height)
	if err != nil {
		e.logger.Warnw("cannot unproject pick", "x", x, "y", y, "error", err)
		return
	}
	idx, pos, _, err := e.index.NearestNeighbor(world)
	if errors.Is(err, pointcloud.ErrEmptyIndex) {
		return
	}
	if err != nil {
		e.logger.Warnw("cannot snap pick", "error", err)
		return
	}
	e.push(PickedPoint{Index: idx, Position: pos})
}

func (e *PickEngine) push(p PickedPoint) {
	name := MarkerName(len(e.stack) + 1)
	marker := &scene.Marker{Center: p.Position, Radius: e.cfg.MarkerRadius}
	if err := e.scene.AddGeometry(name, marker, e.cfg.MarkerMaterial); err != nil {
		e.logger.Errorw("cannot add pick marker", "marker", name, "error", err)
		return
	}
	e.stack = append(e.stack, p)
	e.logger.Infow("picked point", "index", p.Index, "x", p.Position.X, "y", p.Position.Y, "z", p.Position.Z)

	if n := len(e.stack); n >= 2 && n%2 == 0 {
		from, to := e.stack[n-2], e.stack[n-1]
		d := from.Position.Distance(to.Position)
		e.distances = append(e.distances, d)
		e.logger.Infow("distance", "meters", d)
		if e.display != nil {
			e.display.ShowDistance(d, from, to)
		}
	}
}

// Undo removes the most recent pick and its marker.
func (e *PickEngine) Undo() {
	if e.state != Active {
		return
	}
	n := len(e.stack)
	if n == 0 {
		e.logger.Info("no picked point to undo")
		return
	}
	e.stack = e.stack[:n-1]
	if n%2 == 0 && len(e.distances) > 0 {
		e.distances = e.distances[:len(e.distances)-1]
	}
	e.scene.RemoveGeometry(MarkerName(n))
	e.scene.ForceRedraw()
	e.logger.Debugw("removed picked point", "remaining", n-1)

	if e.display == nil {
		return
	}
	if m := len(e.stack); m >= 2 && m%2 == 0 {
		from, to := e.stack[m-2], e.stack[m-1]
		e.display.ShowDistance(from.Position.Distance(to.Position), from, to)
	} else {
		e.display.ClearDistance()
	}
}
