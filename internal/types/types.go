package types

import (
	"fmt"
	"sort"
	"strings"
)

// Point is a location in pixels. Source points are in source-image pixels,
// canvas points in output pixels.
type Point struct {
	X float64
	Y float64
}

// Box is an axis-aligned face box in source-image pixels.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Keypoint is a named landmark as reported by a detector backend.
type Keypoint struct {
	Name string
	X    float64
	Y    float64
}

// Face is one raw detection: box, score and named keypoints.
type Face struct {
	Box       Box
	Score     float64
	Keypoints []Keypoint
}

// FaceAnchor is the geometry used to align one image. Any field may be nil.
// Eyes are only set when both sides were resolved.
type FaceAnchor struct {
	Box      *Box
	LeftEye  *Point
	RightEye *Point
}

// HasEyes reports whether both eye centers are known.
func (a *FaceAnchor) HasEyes() bool {
	return a != nil && a.LeftEye != nil && a.RightEye != nil
}

// HasAnchor reports whether the anchor carries a box or both eyes.
func (a *FaceAnchor) HasAnchor() bool {
	return a != nil && (a.Box != nil || a.HasEyes())
}

// Transform maps source pixels to canvas pixels: canvas = source*Scale + (DX, DY).
type Transform struct {
	Scale float64
	DX    float64
	DY    float64
}

// Apply maps a source point into canvas space.
func (t Transform) Apply(p Point) Point {
	return Point{X: t.DX + p.X*t.Scale, Y: t.DY + p.Y*t.Scale}
}

// TargetSpec is the output size plus the vertical layout of the face on it,
// expressed as fractions of the canvas.
type TargetSpec struct {
	Name           string
	Width          int
	Height         int
	TopFraction    float64
	EyeFraction    float64
	ChinFraction   float64
	CenterFraction float64
}

// Validate checks the size and that the layout fractions are ordered.
func (s TargetSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", s.Width, s.Height)
	}
	if s.ChinFraction <= s.TopFraction {
		return fmt.Errorf("chin fraction %.3f must be below top fraction %.3f", s.ChinFraction, s.TopFraction)
	}
	return nil
}

// Guides are the horizontal and vertical reference lines drawn over the
// preview when eye guides are enabled. Values are canvas pixels.
type Guides struct {
	TopY    float64
	EyeY    float64
	ChinY   float64
	CenterX float64
}

// Guides returns the reference lines for this spec.
func (s TargetSpec) Guides() Guides {
	h := float64(s.Height)
	return Guides{
		TopY:    h * s.TopFraction,
		EyeY:    h * s.EyeFraction,
		ChinY:   h * s.ChinFraction,
		CenterX: float64(s.Width) * s.CenterFraction,
	}
}

// Toggles are the per-run feature switches.
type Toggles struct {
	FaceCrop   bool `mapstructure:"face_crop"`
	BgRemove   bool `mapstructure:"bg_remove"`
	AutoCenter bool `mapstructure:"auto_center"`
	EyeGuides  bool `mapstructure:"eye_guides"`
	RedEye     bool `mapstructure:"red_eye"`
	Lighting   bool `mapstructure:"lighting"`
}

// DefaultToggles has every feature on.
func DefaultToggles() Toggles {
	return Toggles{FaceCrop: true, BgRemove: true, AutoCenter: true, EyeGuides: true, RedEye: true, Lighting: true}
}

// Default face layout on the canvas.
const (
	DefaultTopFraction    = 0.18
	DefaultEyeFraction    = 0.45
	DefaultChinFraction   = 0.74
	DefaultCenterFraction = 0.5
)

// Presets are the supported document sizes in pixels.
var Presets = map[string]TargetSpec{
	"usa":      NewTargetSpec("usa", 600, 600),
	"india":    NewTargetSpec("india", 413, 531),
	"uk":       NewTargetSpec("uk", 413, 531),
	"schengen": NewTargetSpec("schengen", 413, 531),
	"canada":   NewTargetSpec("canada", 591, 827),
}

// PresetLabels are the human readable names shown by the presets command.
var PresetLabels = map[string]string{
	"usa":      "USA (2x2 in)",
	"india":    "India (35x45 mm)",
	"uk":       "UK (35x45 mm)",
	"schengen": "Schengen (35x45 mm)",
	"canada":   "Canada (50x70 mm)",
}

// NewTargetSpec builds a spec of the given size with the default face layout.
func NewTargetSpec(name string, width, height int) TargetSpec {
	return TargetSpec{
		Name:           name,
		Width:          width,
		Height:         height,
		TopFraction:    DefaultTopFraction,
		EyeFraction:    DefaultEyeFraction,
		ChinFraction:   DefaultChinFraction,
		CenterFraction: DefaultCenterFraction,
	}
}

// LookupPreset resolves a preset name case-insensitively.
func LookupPreset(name string) (TargetSpec, error) {
	spec, ok := Presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TargetSpec{}, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return spec, nil
}

// PresetNames returns the preset keys sorted alphabetically.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for k := range Presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
