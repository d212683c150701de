package perception

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
)

// ReplayHeader is the optional first line of a replay file
type ReplayHeader struct {
	Video  string  `json:"video"`
	FPS    float64 `json:"fps"`
	Frames int     `json:"frames"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// ReplayFace is a face, plus the emotion that the external model assigned to it
type ReplayFace struct {
	Face
	Emotion *Emotion `json:"emotion,omitempty"`
}

// ReplayFrame holds the precomputed perception results for one frame.
// Fields that are absent mean that the model was not run, or saw nothing.
type ReplayFrame struct {
	Frame        int                    `json:"frame"`
	Time         float64                `json:"time"` // Seconds
	Width        int                    `json:"width,omitempty"`
	Height       int                    `json:"height,omitempty"`
	Faces        []ReplayFace           `json:"faces,omitempty"`
	Activities   []Activity             `json:"activities,omitempty"`
	Orientations []OrientationDetection `json:"orientations,omitempty"`
	Scene        *Scene                 `json:"scene,omitempty"`
	Objects      []Object               `json:"objects,omitempty"`
}

type replayLine struct {
	Header *ReplayHeader `json:"header"`
	ReplayFrame
}

type ReplayOptions struct {
	FlagOverlays bool // Run FlagOverlays on every frame's objects
}

// Replay reads per-frame perception results from a JSON-lines file, which is
// typically produced by running the perception models in a separate process.
// Replay is a FrameSource, and it implements every adapter interface for the
// frame that was most recently returned by NextFrame.
type Replay struct {
	Header   ReplayHeader
	options  ReplayOptions
	closer   io.Closer
	filename string
	scanner  *bufio.Scanner
	line     int
	current  *ReplayFrame
}

// Maximum length of a single JSON line
const maxReplayLineBytes = 16 * 1024 * 1024

// OpenReplay opens a replay file
func OpenReplay(filename string, options ReplayOptions) (*Replay, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, err := NewReplay(f, options)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	r.filename = filename
	return r, nil
}

// NewReplay reads replay records from r
func NewReplay(r io.Reader, options ReplayOptions) (*Replay, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)
	rp := &Replay{
		options: options,
		scanner: scanner,
	}
	return rp, nil
}

// Name is the video named by the header, or else the replay filename
func (r *Replay) Name() string {
	if r.Header.Video != "" {
		return r.Header.Video
	}
	return r.filename
}

// TotalFrames is the frame count from the header, or zero if unknown
func (r *Replay) TotalFrames() int {
	return r.Header.Frames
}

func (r *Replay) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// NextFrame returns the next recorded frame, or io.EOF
func (r *Replay) NextFrame() (*Frame, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := replayLine{}
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("Replay line %v: %w", r.line, err)
		}
		if line.Header != nil {
			r.Header = *line.Header
			continue
		}
		rec := line.ReplayFrame
		if r.current != nil && rec.Frame <= r.current.Frame {
			return nil, fmt.Errorf("Replay line %v: frame %v is not after frame %v", r.line, rec.Frame, r.current.Frame)
		}
		if rec.Width == 0 {
			rec.Width = r.Header.Width
		}
		if rec.Height == 0 {
			rec.Height = r.Header.Height
		}
		for i := range rec.Orientations {
			o := &rec.Orientations[i]
			if o.Orientation == OrientationUnknown && o.Oriented != nil {
				o.Orientation = ClassifyOrientation(*o.Oriented)
				if o.Box.IsEmpty() {
					o.Box = o.Oriented.Bounds()
				}
			}
		}
		if r.options.FlagOverlays {
			FlagOverlays(rec.Objects, rec.Width, rec.Height)
		}
		r.current = &rec
		return &Frame{
			Index:  rec.Frame,
			Time:   time.Duration(rec.Time * float64(time.Second)),
			Width:  rec.Width,
			Height: rec.Height,
		}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Returns the record for frame, or nil if frame is not the current frame
func (r *Replay) record(frame *Frame) *ReplayFrame {
	if r.current == nil || frame == nil || r.current.Frame != frame.Index {
		return nil
	}
	return r.current
}

var errReplayMismatch = errors.New("frame is not the current replay frame")

func (r *Replay) DetectFaces(frame *Frame) ([]Face, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	faces := make([]Face, len(rec.Faces))
	for i := range rec.Faces {
		faces[i] = rec.Faces[i].Face
	}
	return faces, nil
}

// ClassifyEmotion returns the recorded emotion of the face that best overlaps region
func (r *Replay) ClassifyEmotion(frame *Frame, region geom.Rect, entityID int64) (*Emotion, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	var best *Emotion
	bestIOU := float32(0)
	for i := range rec.Faces {
		f := &rec.Faces[i]
		if f.Emotion == nil {
			continue
		}
		if iou := f.Box.IOU(region); iou > bestIOU {
			bestIOU = iou
			best = f.Emotion
		}
	}
	if best == nil {
		return nil, nil
	}
	e := *best
	return &e, nil
}

func (r *Replay) DetectActivity(frame *Frame) ([]Activity, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	return append([]Activity(nil), rec.Activities...), nil
}

func (r *Replay) DetectOrientation(frame *Frame) ([]OrientationDetection, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	return append([]OrientationDetection(nil), rec.Orientations...), nil
}

func (r *Replay) ClassifyScene(frame *Frame) (*Scene, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	if rec.Scene == nil {
		return nil, nil
	}
	s := *rec.Scene
	return &s, nil
}

func (r *Replay) DetectObjects(frame *Frame) ([]Object, error) {
	rec := r.record(frame)
	if rec == nil {
		return nil, errReplayMismatch
	}
	return append([]Object(nil), rec.Objects...), nil
}

// Adapters returns r as a complete set of perception adapters
func (r *Replay) Adapters() Adapters {
	return Adapters{
		Faces:        r,
		Emotions:     r,
		Activity:     r,
		Orientations: r,
		Scenes:       r,
		Objects:      r,
	}
}
