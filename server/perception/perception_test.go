package perception

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/stretchr/testify/require"
)

func TestClassifyOrientation(t *testing.T) {
	lying := geom.OrientedRect{Width: 60, Height: 20, Angle: 5}
	require.Equal(t, OrientationLying, ClassifyOrientation(lying))

	lying.Angle = 170
	require.Equal(t, OrientationLying, ClassifyOrientation(lying))

	standing := geom.OrientedRect{Width: 20, Height: 60, Angle: 0}
	require.Equal(t, OrientationStanding, ClassifyOrientation(standing))

	rotated := geom.OrientedRect{Width: 60, Height: 20, Angle: 90}
	require.Equal(t, OrientationStanding, ClassifyOrientation(rotated))

	square := geom.OrientedRect{Width: 30, Height: 30, Angle: 0}
	require.Equal(t, OrientationUnknown, ClassifyOrientation(square))

	diagonal := geom.OrientedRect{Width: 60, Height: 20, Angle: 45}
	require.Equal(t, OrientationUnknown, ClassifyOrientation(diagonal))
}

func TestFlagOverlays(t *testing.T) {
	objects := []Object{
		{Box: geom.Rect{X: 0, Y: 0, Width: 800, Height: 600}, Category: "tv", Confidence: 0.9},    // > 40% of 1000x1000
		{Box: geom.Rect{X: 900, Y: 10, Width: 80, Height: 50}, Category: "laptop", Confidence: 0.6}, // top right corner
		{Box: geom.Rect{X: 400, Y: 500, Width: 80, Height: 50}, Category: "laptop", Confidence: 0.6},
		{Box: geom.Rect{X: 10, Y: 10, Width: 80, Height: 50}, Category: "cup", Confidence: 0.6},
	}
	FlagOverlays(objects, 1000, 1000)
	require.NotNil(t, objects[0].Overlay)
	require.Equal(t, OverlayOversized, objects[0].Overlay.Kind)
	require.NotNil(t, objects[1].Overlay)
	require.Equal(t, OverlayScreenCorner, objects[1].Overlay.Kind)
	require.Equal(t, float32(0.6), objects[1].Overlay.Score)
	require.Nil(t, objects[2].Overlay)
	require.Nil(t, objects[3].Overlay)

	// Exactly 40% is not oversized
	boundary := []Object{{Box: geom.Rect{X: 100, Y: 300, Width: 800, Height: 500}, Category: "couch", Confidence: 0.9}}
	FlagOverlays(boundary, 1000, 1000)
	require.Nil(t, boundary[0].Overlay)

	unknown := []Object{{Box: geom.Rect{Width: 800, Height: 800}, Category: "tv"}}
	FlagOverlays(unknown, 0, 0)
	require.Nil(t, unknown[0].Overlay)
}

const replaySample = `{"header":{"video":"lobby.mp4","fps":25,"frames":3,"width":640,"height":480}}
{"frame":0,"time":0,"faces":[{"box":{"x":10,"y":10,"width":40,"height":40},"confidence":0.9,"emotion":{"label":"sad","confidence":0.8}}],"scene":{"label":"office","confidence":0.7}}

{"frame":2,"time":0.08,"objects":[{"box":{"x":0,"y":0,"width":500,"height":400},"category":"tv","confidence":0.9}],"orientations":[{"oriented":{"center":{"x":100,"y":100},"width":90,"height":30,"angle":0},"confidence":0.8}]}
`

func TestReplay(t *testing.T) {
	r, err := NewReplay(strings.NewReader(replaySample), ReplayOptions{FlagOverlays: true})
	require.NoError(t, err)

	f0, err := r.NextFrame()
	require.NoError(t, err)
	require.Equal(t, "lobby.mp4", r.Header.Video)
	require.Equal(t, 0, f0.Index)
	require.Equal(t, 640, f0.Width)

	faces, err := r.DetectFaces(f0)
	require.NoError(t, err)
	require.Len(t, faces, 1)

	emo, err := r.ClassifyEmotion(f0, geom.Rect{X: 12, Y: 12, Width: 40, Height: 40}, 1)
	require.NoError(t, err)
	require.Equal(t, "sad", emo.Label)

	emo, err = r.ClassifyEmotion(f0, geom.Rect{X: 300, Y: 300, Width: 40, Height: 40}, 1)
	require.NoError(t, err)
	require.Nil(t, emo)

	scene, err := r.ClassifyScene(f0)
	require.NoError(t, err)
	require.Equal(t, "office", scene.Label)

	f2, err := r.NextFrame()
	require.NoError(t, err)
	require.Equal(t, 2, f2.Index)
	require.Equal(t, 80*time.Millisecond, f2.Time)

	// Asking for a stale frame is a failure, not a silent empty result
	_, err = r.DetectFaces(f0)
	require.Error(t, err)

	objects, err := r.DetectObjects(f2)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.NotNil(t, objects[0].Overlay)

	orient, err := r.DetectOrientation(f2)
	require.NoError(t, err)
	require.Equal(t, OrientationLying, orient[0].Orientation)
	require.False(t, orient[0].Box.IsEmpty())

	scene, err = r.ClassifyScene(f2)
	require.NoError(t, err)
	require.Nil(t, scene)

	_, err = r.NextFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestReplayRejectsOutOfOrder(t *testing.T) {
	r, err := NewReplay(strings.NewReader("{\"frame\":5}\n{\"frame\":3}\n"), ReplayOptions{})
	require.NoError(t, err)
	_, err = r.NextFrame()
	require.NoError(t, err)
	_, err = r.NextFrame()
	require.Error(t, err)
}
