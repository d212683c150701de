package rules

import "github.com/cyclopcam/vigil/server/perception"

// ObjectMemory records the last frame on which each object category was seen,
// so that scene level rules fire when a category appears, and not on every
// frame that it stays in view.
// The pipeline updates it after evaluating a frame. The engine only reads it.
type ObjectMemory struct {
	objects  map[string]int
	overlays map[string]int
}

func NewObjectMemory() *ObjectMemory {
	return &ObjectMemory{
		objects:  map[string]int{},
		overlays: map[string]int{},
	}
}

// Observe records the objects of a frame
func (m *ObjectMemory) Observe(objects []perception.Object, frame int) {
	for _, o := range objects {
		m.objects[o.Category] = frame
		if o.Overlay != nil {
			m.overlays[o.Category] = frame
		}
	}
}

// SeenWithin returns true if category was seen on a frame before 'frame',
// no more than 'window' frames ago.
func (m *ObjectMemory) SeenWithin(category string, frame, window int) bool {
	if m == nil {
		return false
	}
	return seenWithin(m.objects, category, frame, window)
}

// OverlaySeenWithin is SeenWithin for objects that carried an overlay flag
func (m *ObjectMemory) OverlaySeenWithin(category string, frame, window int) bool {
	if m == nil {
		return false
	}
	return seenWithin(m.overlays, category, frame, window)
}

func seenWithin(lastSeen map[string]int, category string, frame, window int) bool {
	last, ok := lastSeen[category]
	if !ok {
		return false
	}
	return last < frame && frame-last <= window
}
