package pipeline

import (
	"time"

	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/cyclopcam/vigil/server/aggregate"
)

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Progress is sent to watchers periodically during a run, and whenever a warning is raised
type Progress struct {
	Frame       int              `json:"frame"`                 // Most recently read frame
	Time        time.Duration    `json:"time"`                  // Video time of that frame
	TotalFrames int              `json:"totalFrames,omitempty"` // Zero if the source doesn't know its length
	Events      int              `json:"events"`                // Number of events so far
	Stats       *aggregate.Stats `json:"stats,omitempty"`
	Warning     string           `json:"warning,omitempty"`
	Paused      bool             `json:"paused"`
	Done        bool             `json:"done"`
}

// Register to receive progress updates
func (p *Pipeline) AddWatcher() chan Progress {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	ch := make(chan Progress, WatcherChannelSize)
	p.watchers = append(p.watchers, ch)
	return ch
}

// Unregister from progress updates
func (p *Pipeline) RemoveWatcher(ch chan Progress) {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	for i, w := range p.watchers {
		if w == ch {
			p.watchers = gen.DeleteFromSliceUnordered(p.watchers, i)
			return
		}
	}
	p.Log.Warnf("Pipeline.RemoveWatcher failed to find channel")
}

// sendToWatchers never blocks. A watcher that falls behind misses updates.
func (p *Pipeline) sendToWatchers(msg Progress) {
	p.watchersLock.RLock()
	dropped := false
	for _, ch := range p.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			dropped = true
		} else {
			ch <- msg
		}
	}
	p.watchersLock.RUnlock()

	if dropped {
		p.watchersLock.Lock()
		if time.Since(p.lastDropWarn) > 5*time.Second {
			p.lastDropWarn = time.Now()
			p.Log.Warnf("Pipeline watcher is falling behind. I am going to drop progress updates.")
		}
		p.watchersLock.Unlock()
	}
}
