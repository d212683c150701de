// Package perception defines the contracts of the perception models that feed the
// anomaly pipeline, and the detection records they produce.
//
// Every adapter is a black box: frame in, typed detections out. A nil adapter means
// the signal is unavailable, and an adapter that returns no detections means
// "nothing observed". Neither is an error.
package perception

import (
	"image"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
)

// Frame is one decoded video frame
type Frame struct {
	Index  int           `json:"index"`  // Frame number within the video, starting at 0
	Time   time.Duration `json:"time"`   // Presentation time relative to the start of the video
	Width  int           `json:"width"`  // Zero if unknown
	Height int           `json:"height"` // Zero if unknown
	Image  image.Image   `json:"-"`      // Nil when perception results are replayed from disk
}

// FrameSource produces frames in increasing order, and returns io.EOF when exhausted
type FrameSource interface {
	NextFrame() (*Frame, error)
}

type Face struct {
	Box        geom.Rect `json:"box"`
	Confidence float32   `json:"confidence"`
}

type Emotion struct {
	Label      string  `json:"label"` // eg "happy", "sad", "angry", "fearful", "neutral"
	Confidence float32 `json:"confidence"`
}

type Activity struct {
	Box          geom.Rect    `json:"box"`   // Person region
	Label        string       `json:"label"` // eg "walking", "sitting", "waving"
	Confidence   float32      `json:"confidence"`
	Keypoints    []geom.Point `json:"keypoints,omitempty"`
	VelocityHint float32      `json:"velocityHint,omitempty"` // Optional motion magnitude estimated by the pose model
}

type Orientation string

const (
	OrientationUnknown  Orientation = ""
	OrientationStanding Orientation = "standing"
	OrientationSitting  Orientation = "sitting"
	OrientationLying    Orientation = "lying"
)

type OrientationDetection struct {
	Box         geom.Rect          `json:"box"`
	Oriented    *geom.OrientedRect `json:"oriented,omitempty"`
	Orientation Orientation        `json:"orientation"`
	Confidence  float32            `json:"confidence"`
}

type Scene struct {
	Label      string  `json:"label"` // eg "office", "home", "outdoors"
	Confidence float32 `json:"confidence"`
}

type OverlayKind string

const (
	OverlayOversized    OverlayKind = "oversized"     // Object covers an implausible fraction of the frame
	OverlayScreenCorner OverlayKind = "screen_corner" // Screen-like object anchored in a top corner (logo/watermark)
	OverlayGraphic      OverlayKind = "graphic"       // Inserted graphic or text, as judged by an overlay model
)

// OverlayFlag is set by an upstream detector that judged an object to be a visual
// overlay rather than a real object in the scene.
type OverlayFlag struct {
	Kind   OverlayKind `json:"kind"`
	Reason string      `json:"reason"`
	Score  float32     `json:"score"` // 0..1
}

type Object struct {
	Box        geom.Rect    `json:"box"`
	Category   string       `json:"category"` // eg "bed", "laptop"
	Confidence float32      `json:"confidence"`
	Overlay    *OverlayFlag `json:"overlay,omitempty"`
}

type FaceDetector interface {
	DetectFaces(frame *Frame) ([]Face, error)
}

// EmotionClassifier classifies the face inside region. A nil result means no classification.
type EmotionClassifier interface {
	ClassifyEmotion(frame *Frame, region geom.Rect, entityID int64) (*Emotion, error)
}

type ActivityDetector interface {
	DetectActivity(frame *Frame) ([]Activity, error)
}

type OrientationDetector interface {
	DetectOrientation(frame *Frame) ([]OrientationDetection, error)
}

// SceneClassifier classifies the whole frame. A nil result means no classification.
type SceneClassifier interface {
	ClassifyScene(frame *Frame) (*Scene, error)
}

type ObjectDetector interface {
	DetectObjects(frame *Frame) ([]Object, error)
}

// Adapters is the set of perception models available to a run. Any member may be nil.
type Adapters struct {
	Faces        FaceDetector
	Emotions     EmotionClassifier
	Activity     ActivityDetector
	Orientations OrientationDetector
	Scenes       SceneClassifier
	Objects      ObjectDetector
}

// Names of the adapters, used for timing and warnings
const (
	AdapterFaces        = "faces"
	AdapterEmotions     = "emotions"
	AdapterActivity     = "activity"
	AdapterOrientations = "orientations"
	AdapterScenes       = "scenes"
	AdapterObjects      = "objects"
)

// Observations holds everything the frame-level adapters reported for one frame.
// Emotions are absent, because they are classified per tracked entity.
type Observations struct {
	Faces        []Face
	Activities   []Activity
	Orientations []OrientationDetection
	Scene        *Scene
	Objects      []Object
	Failed       []string // Names of adapters that failed on this frame
}
