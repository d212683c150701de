package perception

import (
	"fmt"

	"github.com/cyclopcam/vigil/pkg/geom"
)

const (
	lyingAspectRatio      = 1.2
	overlayAreaFraction   = 0.4
	overlayCornerFraction = 0.15
)

// Object categories that are frequently screens composited into a video, rather
// than real objects in the scene
var screenCategories = map[string]bool{
	"tv":         true,
	"laptop":     true,
	"cell phone": true,
}

// ClassifyOrientation judges posture from a rotated body box.
// An elongated box that lies within 30 degrees of horizontal is lying down.
// An elongated box within 30 degrees of vertical is standing.
// Anything else is left for the pose model to decide.
func ClassifyOrientation(o geom.OrientedRect) Orientation {
	if o.AspectRatio() <= lyingAspectRatio {
		return OrientationUnknown
	}
	deg := o.Angle
	for deg < 0 {
		deg += 180
	}
	for deg >= 180 {
		deg -= 180
	}
	// Angle is measured along the box's Width axis, so if Height is the long side,
	// the long axis is perpendicular to the angle.
	if o.Height > o.Width {
		deg += 90
		if deg >= 180 {
			deg -= 180
		}
	}
	if deg < 30 || deg > 150 {
		return OrientationLying
	}
	if deg > 60 && deg < 120 {
		return OrientationStanding
	}
	return OrientationUnknown
}

// FlagOverlays marks objects that look like visual overlays rather than real
// objects. Objects that already carry a flag are left alone.
// If the frame size is unknown, nothing is flagged.
func FlagOverlays(objects []Object, frameWidth, frameHeight int) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return
	}
	frameArea := float32(frameWidth) * float32(frameHeight)
	for i := range objects {
		obj := &objects[i]
		if obj.Overlay != nil {
			continue
		}
		areaFraction := float32(obj.Box.Area()) / frameArea
		if areaFraction > overlayAreaFraction {
			obj.Overlay = &OverlayFlag{
				Kind:   OverlayOversized,
				Reason: fmt.Sprintf("'%v' covers %.0f%% of the frame", obj.Category, areaFraction*100),
				Score:  min(1, areaFraction),
			}
			continue
		}
		if screenCategories[obj.Category] {
			top := float32(obj.Box.Y) < overlayCornerFraction*float32(frameHeight)
			left := float32(obj.Box.X) < overlayCornerFraction*float32(frameWidth)
			right := float32(obj.Box.X2()) > (1-overlayCornerFraction)*float32(frameWidth)
			if top && (left || right) {
				obj.Overlay = &OverlayFlag{
					Kind:   OverlayScreenCorner,
					Reason: fmt.Sprintf("'%v' anchored in a top corner, like a logo or watermark", obj.Category),
					Score:  obj.Confidence,
				}
			}
		}
	}
}
