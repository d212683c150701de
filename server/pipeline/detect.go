package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/server/perception"
	"golang.org/x/sync/errgroup"
)

type detection struct {
	perception.Observations
	errors map[string]error
}

// Run f, converting a panic into an error
func protect(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v panicked: %v", name, r)
		}
	}()
	return f()
}

// detect runs the frame level adapters concurrently, and waits for all of them.
// A failed adapter contributes nothing, and is listed in Failed.
func (p *Pipeline) detect(frame *perception.Frame) *detection {
	st := p.state
	a := &p.adapters
	obs := &detection{
		errors: map[string]error{},
	}
	var errLock sync.Mutex
	var g errgroup.Group

	run := func(name string, f func() error) {
		g.Go(func() error {
			start := time.Now()
			err := protect(name, f)
			st.timings.AddSample(name, time.Since(start))
			if err != nil {
				errLock.Lock()
				obs.errors[name] = err
				errLock.Unlock()
			}
			// Never fail the group. One broken adapter must not cancel the others.
			return nil
		})
	}

	if a.Faces != nil {
		run(perception.AdapterFaces, func() (err error) {
			obs.Faces, err = a.Faces.DetectFaces(frame)
			return
		})
	}
	if a.Activity != nil {
		run(perception.AdapterActivity, func() (err error) {
			obs.Activities, err = a.Activity.DetectActivity(frame)
			return
		})
	}
	if a.Orientations != nil {
		run(perception.AdapterOrientations, func() (err error) {
			obs.Orientations, err = a.Orientations.DetectOrientation(frame)
			return
		})
	}
	if a.Scenes != nil && st.scene.Due(frame.Time, st.cfg.SceneRefreshInterval()) {
		run(perception.AdapterScenes, func() (err error) {
			obs.Scene, err = a.Scenes.ClassifyScene(frame)
			return
		})
	}
	if a.Objects != nil {
		run(perception.AdapterObjects, func() (err error) {
			obs.Objects, err = a.Objects.DetectObjects(frame)
			return
		})
	}
	g.Wait()

	for name := range obs.errors {
		obs.Failed = append(obs.Failed, name)
		switch name {
		case perception.AdapterFaces:
			obs.Faces = nil
		case perception.AdapterActivity:
			obs.Activities = nil
		case perception.AdapterOrientations:
			obs.Orientations = nil
		case perception.AdapterScenes:
			obs.Scene = nil
		case perception.AdapterObjects:
			obs.Objects = nil
		}
	}
	sort.Strings(obs.Failed)
	return obs
}

// classifyEmotion runs the emotion classifier on a single entity.
// Failure is treated as "no emotion".
func (p *Pipeline) classifyEmotion(frame *perception.Frame, region geom.Rect, entityID int64) *perception.Emotion {
	if p.adapters.Emotions == nil {
		return nil
	}
	var em *perception.Emotion
	start := time.Now()
	err := protect(perception.AdapterEmotions, func() (err error) {
		em, err = p.adapters.Emotions.ClassifyEmotion(frame, region, entityID)
		return
	})
	p.state.timings.AddSample(perception.AdapterEmotions, time.Since(start))
	if err != nil {
		p.warnOnce(perception.AdapterEmotions, "Adapter '%v' failed on frame %v, treating it as a missing signal: %v", perception.AdapterEmotions, frame.Index, err)
		return nil
	}
	return em
}
