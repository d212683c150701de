package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/www"
	"github.com/cyclopcam/vigil/server/pipeline"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Requests per IP, per endpoint
const (
	DefaultRequestLimit = 20
	DefaultWindowLength = time.Second
)

// Server exposes the progress of a running pipeline over HTTP
type Server struct {
	Log logs.Log

	pipeline   *pipeline.Pipeline
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

func NewServer(log logs.Log, p *pipeline.Pipeline) *Server {
	s := &Server{
		Log:      log,
		pipeline: p,
	}
	s.setupHttpRoutes(DefaultRequestLimit, DefaultWindowLength)
	return s
}

func (s *Server) setupHttpRoutes(requestLimit int, windowLength time.Duration) {
	router := httprouter.New()

	ratelimited := func(method, route string, handle httprouter.Handle) {
		// One limiter per endpoint, so KeyByEndpoint isn't needed
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))

		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	ratelimited("GET", "/api/stats", s.httpStats)
	ratelimited("GET", "/api/events", s.httpEvents)
	ratelimited("GET", "/api/timings", s.httpTimings)
	ratelimited("POST", "/api/pause", s.httpPause)
	ratelimited("POST", "/api/resume", s.httpResume)
	ratelimited("POST", "/api/cancel", s.httpCancel)
	// The websocket lives for the whole run, so it is not rate limited
	router.GET("/api/ws", s.httpProgressSocket)

	s.httpRouter = router
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() {
	if s.httpServer == nil {
		return
	}
	s.Log.Infof("Closing HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Log.Warnf("HTTP server shutdown, with error: %v", err)
	}
}
