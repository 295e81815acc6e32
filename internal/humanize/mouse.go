// Package humanize drives a page pointer along curved, jittered paths so
// widget clicks look like a person moved the mouse there.
package humanize

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X, Y float64
}

// Box is an element's bounding rectangle.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Empty reports a zero-area box.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Pointer is the low-level mouse of a page.
type Pointer interface {
	Position() Point
	MoveTo(ctx context.Context, p Point) error
	Click(ctx context.Context) error
}

// MouseConfig tunes path shape and pacing.
type MouseConfig struct {
	MinSteps       int
	MaxSteps       int
	MinStepDelayMs int
	MaxStepDelayMs int
	// Maximum random offset from the requested click point, in pixels.
	ClickJitter float64
	Hover       time.Duration
	Settle      time.Duration
}

// DefaultMouseConfig hovers half a second before the click and lets the
// widget settle for two seconds after it.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		MinSteps:       15,
		MaxSteps:       30,
		MinStepDelayMs: 3,
		MaxStepDelayMs: 12,
		ClickJitter:    3,
		Hover:          500 * time.Millisecond,
		Settle:         2 * time.Second,
	}
}

// Mouse moves a Pointer like a person would.
type Mouse struct {
	ptr    Pointer
	config MouseConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMouse wraps ptr with the default configuration.
func NewMouse(ptr Pointer) *Mouse {
	return NewMouseWithConfig(ptr, DefaultMouseConfig())
}

// NewMouseWithConfig wraps ptr with config.
func NewMouseWithConfig(ptr Pointer, config MouseConfig) *Mouse {
	if config.MinSteps < 2 {
		config.MinSteps = 2
	}
	if config.MaxSteps < config.MinSteps {
		config.MaxSteps = config.MinSteps
	}
	return &Mouse{
		ptr:    ptr,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Mouse) float() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *Mouse) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// MoveTo glides the pointer to target.
func (m *Mouse) MoveTo(ctx context.Context, target Point) error {
	steps := m.config.MinSteps + m.intn(m.config.MaxSteps-m.config.MinSteps+1)

	m.mu.Lock()
	path := bezierPath(m.ptr.Position(), target, steps, m.rng)
	m.mu.Unlock()

	for _, p := range path {
		if err := m.ptr.MoveTo(ctx, p); err != nil {
			return err
		}
		if err := Sleep(ctx, RandomDuration(m.config.MinStepDelayMs, m.config.MaxStepDelayMs)); err != nil {
			return err
		}
	}
	return nil
}

// Click moves to a jittered point near target, hovers, clicks, then waits
// for the page to settle.
func (m *Mouse) Click(ctx context.Context, target Point) error {
	r := m.config.ClickJitter
	at := Point{
		X: target.X + (m.float()*2-1)*r,
		Y: target.Y + (m.float()*2-1)*r,
	}
	if err := m.MoveTo(ctx, at); err != nil {
		return err
	}
	if err := Sleep(ctx, m.config.Hover); err != nil {
		return err
	}
	if err := m.ptr.Click(ctx); err != nil {
		return err
	}
	log.Debug().Float64("x", at.X).Float64("y", at.Y).Msg("Pointer click")
	return Sleep(ctx, m.config.Settle)
}

// ClickBox clicks the center of b.
func (m *Mouse) ClickBox(ctx context.Context, b Box) error {
	if b.Empty() {
		return ErrEmptyBox
	}
	return m.Click(ctx, b.Center())
}

// bezierPath returns n points on a cubic curve from start to end whose
// control points bow out to random sides of the straight line. Progress
// along the curve is eased in and out.
func bezierPath(start, end Point, n int, rng *rand.Rand) []Point {
	if n < 2 {
		n = 2
	}
	dx, dy := end.X-start.X, end.Y-start.Y
	dist := math.Hypot(dx, dy)

	var nx, ny float64
	if dist > 0 {
		nx, ny = -dy/dist, dx/dist
	}
	side := func() float64 {
		if rng.Float64() < 0.5 {
			return -1
		}
		return 1
	}
	bow1 := dist * (0.2 + rng.Float64()*0.3) * side()
	bow2 := dist * (0.2 + rng.Float64()*0.3) * side()

	c1 := Point{X: start.X + dx/3 + nx*bow1, Y: start.Y + dy/3 + ny*bow1}
	c2 := Point{X: start.X + 2*dx/3 + nx*bow2, Y: start.Y + 2*dy/3 + ny*bow2}

	pts := make([]Point, n)
	for i := range pts {
		t := ease(float64(i) / float64(n-1))
		u := 1 - t
		a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
		pts[i] = Point{
			X: a*start.X + b*c1.X + c*c2.X + d*end.X,
			Y: a*start.Y + b*c1.Y + c*c2.Y + d*end.Y,
		}
	}
	return pts
}

func ease(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
