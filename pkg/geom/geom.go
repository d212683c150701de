package geom

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// Rect is an axis-aligned region, in pixels
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

func MakeRect(x1, y1, x2, y2 int32) Rect {
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func (r Rect) X2() int32 {
	return r.X + r.Width
}

func (r Rect) Y2() int32 {
	return r.Y + r.Height
}

func (r Rect) Area() int64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return int64(r.Width) * int64(r.Height)
}

func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

func (r Rect) Center() Point {
	return Point{
		X: float32(r.X) + float32(r.Width)/2,
		Y: float32(r.Y) + float32(r.Height)/2,
	}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= float32(r.X) && p.X < float32(r.X2()) && p.Y >= float32(r.Y) && p.Y < float32(r.Y2())
}

// ClipTo returns the part of r that lies inside a frame of the given size
func (r Rect) ClipTo(frameWidth, frameHeight int) Rect {
	return r.Intersection(Rect{Width: int32(frameWidth), Height: int32(frameHeight)})
}

// OrientedRect is a rotated box, as produced by oriented (OBB) detectors.
// Angle is in degrees, in the range [0,180).
type OrientedRect struct {
	Center Point   `json:"center"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
	Angle  float32 `json:"angle"`
}

// AspectRatio is the ratio of the long side to the short side
func (o OrientedRect) AspectRatio() float32 {
	long := max(o.Width, o.Height)
	short := min(o.Width, o.Height)
	if short <= 0 {
		return 0
	}
	return long / short
}

// Bounds returns the axis-aligned bounding box of the rotated rectangle
func (o OrientedRect) Bounds() Rect {
	rad := o.Angle * math32.Pi / 180
	c := math32.Abs(math32.Cos(rad))
	s := math32.Abs(math32.Sin(rad))
	w := o.Width*c + o.Height*s
	h := o.Width*s + o.Height*c
	return Rect{
		X:      int32(math32.Round(o.Center.X - w/2)),
		Y:      int32(math32.Round(o.Center.Y - h/2)),
		Width:  int32(math32.Round(w)),
		Height: int32(math32.Round(h)),
	}
}
