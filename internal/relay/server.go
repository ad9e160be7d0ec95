package relay

import (
	"encoding/gob"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fluxquery/internal/driver"
	"fluxquery/internal/results"
	"fluxquery/internal/security"
)

// Server is the agent side of a RemoteDriver. It runs each requested query
// against its local driver and relays the signals back as gob frames while
// honouring extend and cancel control messages.
type Server struct {
	Driver driver.Driver
	Auth   *security.Authenticator
	// Validate vets statements before they reach the driver. nil accepts all.
	Validate func(statement string) error
	// Observer sees every relayed query.
	Observer results.Observer
	Logger   *slog.Logger

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	once     sync.Once
}

func (s *Server) init() {
	s.once.Do(func() {
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		if s.Auth == nil {
			s.Auth = security.NewAuthenticator(nil, "")
		}
		s.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Agents are called by servers, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		s.mux = http.NewServeMux()
		s.mux.HandleFunc("/ping", s.handlePing)
		s.mux.HandleFunc("/query", s.handleQuery)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.init()
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (security.Principal, bool) {
	p, err := s.Auth.Authenticate(r)
	if err != nil {
		s.Logger.Warn("Rejected agent request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return p, false
	}
	return p, true
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if err := s.Driver.Ping(r.Context()); err != nil {
		s.Logger.Error("Local database unreachable", "error", err)
		http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("Upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var job driver.JobCommand
	if err := conn.ReadJSON(&job); err != nil {
		s.Logger.Error("Invalid command", "error", err)
		return
	}
	log := s.Logger.With("job_id", job.ID, "subject", principal.Subject)
	log.Info("Received Job", "limit", job.Limit)

	enc := gob.NewEncoder(&driver.WSWriter{Conn: conn})
	q, err := s.prepare(job.Query)
	if err != nil {
		log.Warn("Query rejected", "error", err)
		_ = enc.Encode(driver.FrameFor(results.FinalSignal[driver.Row](results.Metadata{TotalRows: results.UnknownTotal}, err)))
		closeNormal(conn)
		return
	}

	stopped := make(chan struct{})
	go s.readControl(conn, q, log, stopped)

	start := time.Now()
	if s.Observer != nil {
		s.Observer.Submitted(job.Limit)
	}
	var (
		rows     int
		writeErr error
		final    results.Signal[driver.Row]
	)
	q.Perform(job.Limit, func(sig results.Signal[driver.Row]) {
		if writeErr != nil {
			return
		}
		switch sig.Kind {
		case results.KindRow:
			rows++
			if s.Observer != nil {
				s.Observer.RowDelivered()
			}
		case results.KindFinal:
			final = sig
		}
		if err := enc.Encode(driver.FrameFor(sig)); err != nil {
			writeErr = err
			q.Cancel()
		}
	})

	state := results.Completed
	switch {
	case writeErr != nil:
		state = results.Cancelled
		log.Warn("Client went away", "error", writeErr, "rows", rows)
	case final.Err != nil:
		state = results.Failed
		log.Error("Query failed", "error", final.Err, "rows", rows)
	default:
		log.Info("Job Completed", "rows", rows, "elapsed", time.Since(start))
	}
	if s.Observer != nil {
		s.Observer.Finished(state, rows, time.Since(start))
	}

	closeNormal(conn)
	<-stopped
}

func (s *Server) prepare(statement string) (results.Driver[driver.Row], error) {
	if s.Validate != nil {
		if err := s.Validate(statement); err != nil {
			return nil, err
		}
	}
	return s.Driver.Query(statement)
}

// readControl applies control messages until the connection closes. A closed
// connection cancels the query.
func (s *Server) readControl(conn *websocket.Conn, q results.Driver[driver.Row], log *slog.Logger, stopped chan<- struct{}) {
	defer close(stopped)
	ext, _ := q.(results.Extender)
	for {
		var c driver.Control
		if err := conn.ReadJSON(&c); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				log.Debug("Control stream ended", "reason", err)
			}
			q.Cancel()
			return
		}
		switch c.Type {
		case driver.ControlExtend:
			if ext != nil {
				ext.Extend(c.Limit)
			}
		case driver.ControlCancel:
			log.Info("Job cancelled by client")
			q.Cancel()
		default:
			log.Warn("Unknown control message", "type", c.Type)
		}
	}
}

// closeNormal starts the close handshake; the client answers and the control
// reader ends.
func closeNormal(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
}
