package httpapi

import (
	"net/http"
	"time"

	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/pipeline"
	"github.com/cyclopcam/vigil/server/rules"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const wsWriteTimeout = 5 * time.Second

type eventsResponse struct {
	Total  int           `json:"total"` // Number of events that matched, before 'offset'
	Events []rules.Event `json:"events"`
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.pipeline.RunningStats())
}

func (s *Server) httpTimings(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.pipeline.Timings())
}

// Query parameters:
// minSeverity: low, medium, high (default low)
// kind:        only return events of this kind
// offset:      skip the first N matching events
func (s *Server) httpEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	minSeverity := rules.SeverityLow
	if v := www.QueryValue(r, "minSeverity"); v != "" {
		sev, err := rules.ParseSeverity(v)
		if err != nil {
			www.PanicBadRequestf("%v", err)
		}
		minSeverity = sev
	}
	var kind rules.Kind
	if v := www.QueryValue(r, "kind"); v != "" {
		k, err := rules.ParseKind(v)
		if err != nil {
			www.PanicBadRequestf("%v", err)
		}
		kind = k
	}
	offset := www.QueryInt(r, "offset", 0)
	if offset < 0 {
		www.PanicBadRequestf("offset may not be negative")
	}

	matched := []rules.Event{}
	for _, e := range s.pipeline.Events() {
		if e.Severity < minSeverity || (kind != 0 && e.Kind != kind) {
			continue
		}
		matched = append(matched, e)
	}
	resp := eventsResponse{
		Total:  len(matched),
		Events: []rules.Event{},
	}
	if offset < len(matched) {
		resp.Events = matched[offset:]
	}
	www.SendJSON(w, &resp)
}

func (s *Server) httpPause(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.pipeline.IsCancelled() {
		www.PanicConflictf("Run has been cancelled")
	}
	s.pipeline.Pause()
	www.SendOK(w)
}

func (s *Server) httpResume(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.pipeline.Resume()
	www.SendOK(w)
}

func (s *Server) httpCancel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.Log.Infof("Cancel requested by %v", r.RemoteAddr)
	s.pipeline.Cancel()
	www.SendOK(w)
}

// httpProgressSocket streams pipeline.Progress messages as JSON, until the run is done
// or the client goes away.
func (s *Server) httpProgressSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpProgressSocket websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	watcher := s.pipeline.AddWatcher()
	defer s.pipeline.RemoveWatcher(watcher)

	// Send the current state immediately, so the client doesn't have to wait for the next update
	stats := s.pipeline.RunningStats()
	first := pipeline.Progress{
		Events: s.pipeline.NumEvents(),
		Stats:  &stats,
		Paused: s.pipeline.IsPaused(),
	}
	if err := s.writeProgress(c, &first); err != nil {
		return
	}

	// We never expect anything from the client, but we must read in order to notice a close
	clientClosed := make(chan bool)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		close(clientClosed)
	}()

	for {
		select {
		case msg := <-watcher:
			if err := s.writeProgress(c, &msg); err != nil {
				return
			}
			if msg.Done {
				c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(wsWriteTimeout))
				return
			}
		case <-clientClosed:
			return
		}
	}
}

func (s *Server) writeProgress(c *websocket.Conn, msg *pipeline.Progress) error {
	c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.WriteJSON(msg)
	if err != nil {
		s.Log.Infof("Progress websocket write failed: %v", err)
	}
	return err
}
