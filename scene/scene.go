// Package scene defines the rendering surface the scanner draws into and reads depth back from.
// Every method must be called from the UI context that owns the scene.
package scene

import (
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/pointcloud"
)

// Geometry names used by the scanner.
const (
	StreamGeometry    = "stream"
	SavedScanGeometry = "pcd"
)

// NoGeometryDepth is the normalized depth of pixels that show no geometry.
const NoGeometryDepth = float32(1.0)

// ErrUnknownGeometry is returned when a named geometry is not in the scene.
var ErrUnknownGeometry = errors.New("no geometry with that name")

// Material describes how a geometry is drawn.
type Material struct {
	Shader    string
	PointSize float64
	BaseColor color.NRGBA
}

// Shaders understood by the scene.
const (
	ShaderUnlit    = "defaultUnlit"
	ShaderLit      = "defaultLit"
	ShaderPointSet = "unlitPointSet"
)

// DefaultPointMaterial is the material used for streamed clouds.
func DefaultPointMaterial() Material {
	return Material{Shader: ShaderPointSet, PointSize: 1, BaseColor: color.NRGBA{255, 255, 255, 255}}
}

// Geometry is anything the scene can draw. Implementations are immutable.
type Geometry interface {
	// Size returns the number of world space samples that make up the geometry.
	Size() int
	// Sample returns the i-th world space sample.
	Sample(i int) r3.Vector
}

// CloudGeometry draws a point cloud.
type CloudGeometry struct {
	Cloud *pointcloud.PointCloud
}

// NewCloudGeometry wraps a cloud for drawing.
func NewCloudGeometry(cloud *pointcloud.PointCloud) *CloudGeometry {
	return &CloudGeometry{Cloud: cloud}
}

// Size implements Geometry.
func (g *CloudGeometry) Size() int { return g.Cloud.Size() }

// Sample implements Geometry.
func (g *CloudGeometry) Sample(i int) r3.Vector { return g.Cloud.Position(i) }

// Marker is a small sphere drawn at a picked point.
type Marker struct {
	Center r3.Vector
	Radius float64
}

// Size implements Geometry.
func (m *Marker) Size() int { return 1 }

// Sample implements Geometry.
func (m *Marker) Sample(int) r3.Vector { return m.Center }

// DepthImage is a normalized depth buffer read back from the renderer, row-major with the
// origin in the top left corner. 0 is the near plane and NoGeometryDepth the far plane.
type DepthImage struct {
	Width, Height int
	Data          []float32
}

// NewDepthImage returns a depth image with nothing drawn.
func NewDepthImage(width, height int) *DepthImage {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = NoGeometryDepth
	}
	return &DepthImage{Width: width, Height: height, Data: data}
}

// At returns the depth at the pixel, or NoGeometryDepth outside the image.
func (img *DepthImage) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return NoGeometryDepth
	}
	return img.Data[y*img.Width+x]
}

// Set stores the depth at the pixel.
func (img *DepthImage) Set(x, y int, depth float32) {
	img.Data[y*img.Width+x] = depth
}

// Camera is a snapshot of the view used for a render. It stays valid when the scene camera
// moves afterwards.
type Camera interface {
	// Unproject maps a viewport pixel and its normalized depth back to world space.
	Unproject(x, y, depth float64, viewWidth, viewHeight int) (r3.Vector, error)
}

// Viewport is the size of the drawing area in pixels.
type Viewport struct {
	Width, Height int
}

// MouseButton is a bit set of mouse buttons.
type MouseButton int

// Mouse buttons.
const (
	ButtonLeft MouseButton = 1 << iota
	ButtonRight
	ButtonMiddle
)

// Modifier is a bit set of keyboard modifiers.
type Modifier int

// Keyboard modifiers.
const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModMeta
)

// MouseEventType is what happened to the mouse.
type MouseEventType int

// Mouse event types.
const (
	MouseMove MouseEventType = iota
	MouseButtonDown
	MouseButtonUp
	MouseDrag
	MouseWheel
)

// MouseEvent is a pointer event in viewport pixel coordinates.
type MouseEvent struct {
	Type      MouseEventType
	X, Y      int
	Buttons   MouseButton
	Modifiers Modifier
}

// IsButtonDown reports whether the event pressed the button.
func (e MouseEvent) IsButtonDown(b MouseButton) bool {
	return e.Type == MouseButtonDown && e.Buttons&b != 0
}

// IsModifierDown reports whether the modifier was held.
func (e MouseEvent) IsModifierDown(m Modifier) bool {
	return e.Modifiers&m != 0
}

// EventResult tells the scene whether a handler used an event.
type EventResult int

// Event results.
const (
	// EventIgnored lets the scene run its own camera controls.
	EventIgnored EventResult = iota
	// EventHandled means the handler acted but camera controls still run.
	EventHandled
	// EventConsumed stops the scene from processing the event.
	EventConsumed
)

// MouseHandler receives pointer events on the UI context.
type MouseHandler func(MouseEvent) EventResult

// Scene is the retained-mode scene graph of the viewer.
type Scene interface {
	AddGeometry(name string, geom Geometry, mat Material) error
	RemoveGeometry(name string)
	HasGeometry(name string) bool
	ClearGeometry()
	// RenderToDepthImage renders the current frame and delivers its depth buffer to cb on the
	// UI context at a later time.
	RenderToDepthImage(cb func(*DepthImage))
	// Camera returns a snapshot of the current view.
	Camera() Camera
	Viewport() Viewport
	ForceRedraw()
	// SetOnMouse installs the pointer handler. A nil handler uninstalls it.
	SetOnMouse(handler MouseHandler)
}
