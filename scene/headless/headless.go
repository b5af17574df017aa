// Package headless implements a scene without a window. It keeps the scene graph, rasterizes
// geometry samples into a depth buffer for readback, and runs pointer handlers on demand.
package headless

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/dispatch"
	"github.com/fmfi-uk/rsscan/logging"
	"github.com/fmfi-uk/rsscan/scene"
)

const (
	defaultFovY = 60.0
	defaultNear = 0.01
	defaultFar  = 100.0
)

// View is an immutable perspective camera.
type View struct {
	Eye, Center, Up r3.Vector
	FovY            float64
	Near, Far       float64
}

// DefaultView looks down -Z from the origin, where corrected camera clouds lie.
func DefaultView() View {
	return View{
		Eye:    r3.Vector{},
		Center: r3.Vector{Z: -1},
		Up:     r3.Vector{Y: 1},
		FovY:   defaultFovY,
		Near:   defaultNear,
		Far:    defaultFar,
	}
}

func toVec3(v r3.Vector) mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

func (v View) matrices(width, height int) (mgl64.Mat4, mgl64.Mat4) {
	modelview := mgl64.LookAtV(toVec3(v.Eye), toVec3(v.Center), toVec3(v.Up))
	projection := mgl64.Perspective(mgl64.DegToRad(v.FovY), float64(width)/float64(height), v.Near, v.Far)
	return modelview, projection
}

// Project maps a world point to viewport pixel coordinates with the origin in the top left
// corner and a normalized depth.
func (v View) Project(p r3.Vector, width, height int) (float64, float64, float64) {
	modelview, projection := v.matrices(width, height)
	win := mgl64.Project(toVec3(p), modelview, projection, 0, 0, width, height)
	return win.X(), float64(height) - win.Y(), win.Z()
}

// Unproject implements scene.Camera.
func (v View) Unproject(x, y, depth float64, viewWidth, viewHeight int) (r3.Vector, error) {
	if viewWidth <= 0 || viewHeight <= 0 {
		return r3.Vector{}, errors.Errorf("invalid viewport (%d,%d)", viewWidth, viewHeight)
	}
	modelview, projection := v.matrices(viewWidth, viewHeight)
	obj, err := mgl64.UnProject(mgl64.Vec3{x, float64(viewHeight) - y, depth}, modelview, projection, 0, 0, viewWidth, viewHeight)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "cannot unproject")
	}
	return r3.Vector{X: obj.X(), Y: obj.Y(), Z: obj.Z()}, nil
}

type entry struct {
	geom scene.Geometry
	mat  scene.Material
}

// Scene is a headless scene. Mutating methods are expected on the UI context, but the scene
// also guards itself so tests may inspect it from elsewhere.
type Scene struct {
	logger logging.Logger
	poster dispatch.Poster

	mu       sync.Mutex
	entries  map[string]entry
	view     View
	viewport scene.Viewport
	handler  scene.MouseHandler
	redraws  int
}

// NewScene returns an empty scene whose render callbacks are delivered through poster.
func NewScene(viewport scene.Viewport, poster dispatch.Poster, logger logging.Logger) *Scene {
	return &Scene{
		logger:   logger.Sublogger("scene"),
		poster:   poster,
		entries:  map[string]entry{},
		view:     DefaultView(),
		viewport: viewport,
	}
}

// AddGeometry implements scene.Scene.
func (s *Scene) AddGeometry(name string, geom scene.Geometry, mat scene.Material) error {
	if geom == nil {
		return errors.Errorf("geometry %q is nil", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return errors.Errorf("geometry %q already exists", name)
	}
	s.entries[name] = entry{geom: geom, mat: mat}
	return nil
}

// RemoveGeometry implements scene.Scene.
func (s *Scene) RemoveGeometry(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// HasGeometry implements scene.Scene.
func (s *Scene) HasGeometry(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// ClearGeometry implements scene.Scene.
func (s *Scene) ClearGeometry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]entry{}
}

// Geometry returns the named geometry and its material.
func (s *Scene) Geometry(name string) (scene.Geometry, scene.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, scene.Material{}, errors.Wrap(scene.ErrUnknownGeometry, name)
	}
	return e.geom, e.mat, nil
}

// GeometryNames returns the sorted names of every geometry in the scene.
func (s *Scene) GeometryNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetView moves the camera.
func (s *Scene) SetView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

// SetViewport resizes the drawing area.
func (s *Scene) SetViewport(vp scene.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = vp
}

// Camera implements scene.Scene.
func (s *Scene) Camera() scene.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Viewport implements scene.Scene.
func (s *Scene) Viewport() scene.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// ForceRedraw implements scene.Scene.
func (s *Scene) ForceRedraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redraws++
}

// Redraws returns how many redraws were forced.
func (s *Scene) Redraws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redraws
}

// SetOnMouse implements scene.Scene.
func (s *Scene) SetOnMouse(handler scene.MouseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// DispatchMouse delivers a pointer event to the installed handler. It must run on the UI context.
func (s *Scene) DispatchMouse(ev scene.MouseEvent) scene.EventResult {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return scene.EventIgnored
	}
	return handler(ev)
}

// Render rasterizes every geometry sample into a depth buffer for the current view.
func (s *Scene) Render() *scene.DepthImage {
	s.mu.Lock()
	view, vp := s.view, s.viewport
	entries := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	img := scene.NewDepthImage(vp.Width, vp.Height)
	if vp.Width <= 0 || vp.Height <= 0 {
		return img
	}
	modelview, projection := view.matrices(vp.Width, vp.Height)
	for _, e := range entries {
		half := int(math.Max(e.mat.PointSize, 1)) / 2
		for i := 0; i < e.geom.Size(); i++ {
			win := mgl64.Project(toVec3(e.geom.Sample(i)), modelview, projection, 0, 0, vp.Width, vp.Height)
			depth := win.Z()
			if depth < 0 || depth >= 1 {
				continue
			}
			cx := int(math.Floor(win.X()))
			cy := int(math.Floor(float64(vp.Height) - win.Y()))
			for y := cy - half; y <= cy+half; y++ {
				for x := cx - half; x <= cx+half; x++ {
					if x < 0 || y < 0 || x >= vp.Width || y >= vp.Height {
						continue
					}
					if float32(depth) < img.At(x, y) {
						img.Set(x, y, float32(depth))
					}
				}
			}
		}
	}
	return img
}

// RenderToDepthImage implements scene.Scene. The frame is rendered now and cb runs later on
// the UI context.
func (s *Scene) RenderToDepthImage(cb func(*scene.DepthImage)) {
	img := s.Render()
	if !s.poster.Post(func() { cb(img) }) {
		s.logger.Debug("depth readback dropped, UI context closed")
	}
}
