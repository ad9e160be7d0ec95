package driver

import (
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fluxquery/internal/results"
)

// RemoteDriver runs queries on an agent, the execution context that owns the
// database. Rows arrive over a websocket as gob frames.
type RemoteDriver struct {
	// URL is the agent base URL, e.g. ws://db-host:9090.
	URL string
	// AgentKey is sent as X-Agent-Key when set.
	AgentKey string
	// Token is sent as a bearer token when set.
	Token  string
	Dialer *websocket.Dialer
	Client *http.Client
}

func NewRemoteDriver(rawURL, agentKey, token string) *RemoteDriver {
	return &RemoteDriver{URL: strings.TrimRight(rawURL, "/"), AgentKey: agentKey, Token: token}
}

func (d *RemoteDriver) Name() string {
	return "remote"
}

func (d *RemoteDriver) header() http.Header {
	h := http.Header{}
	if d.AgentKey != "" {
		h.Set("X-Agent-Key", d.AgentKey)
	}
	if d.Token != "" {
		h.Set("Authorization", "Bearer "+d.Token)
	}
	return h
}

// Ping checks that the agent is reachable and accepts the credentials.
func (d *RemoteDriver) Ping(ctx context.Context) error {
	u, err := url.Parse(d.URL + "/ping")
	if err != nil {
		return fmt.Errorf("parse agent url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header = d.header()
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ping agent: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping agent: %s", resp.Status)
	}
	return nil
}

func (d *RemoteDriver) Query(statement string) (results.Driver[Row], error) {
	if strings.TrimSpace(statement) == "" {
		return nil, fmt.Errorf("empty statement")
	}
	return &remoteQuery{d: d, statement: statement}, nil
}

func (d *RemoteDriver) Close() error {
	return nil
}

func (d *RemoteDriver) dial() (*websocket.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.Dial(d.URL+"/query", d.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent: %w (%s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return conn, nil
}

// remoteQuery forwards Extend and Cancel to the agent as control messages.
// mu serialises writes on the connection.
type remoteQuery struct {
	d         *RemoteDriver
	statement string

	mu        sync.Mutex
	conn      *websocket.Conn
	limit     int
	extended  bool
	cancelled bool
}

func (q *remoteQuery) Perform(limit int, onSignal results.SignalFunc[Row]) {
	final := func(err error) {
		onSignal(results.FinalSignal[Row](results.Metadata{TotalRows: results.UnknownTotal}, err))
	}

	conn, err := q.d.dial()
	if err != nil {
		if q.isCancelled() {
			err = nil
		}
		final(err)
		return
	}
	defer conn.Close()

	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		final(nil)
		return
	}
	if !q.extended {
		q.limit = limit
	}
	q.conn = conn
	err = conn.WriteJSON(JobCommand{ID: uuid.New().String(), Query: q.statement, Limit: q.limit})
	q.mu.Unlock()
	if err != nil {
		final(fmt.Errorf("send job: %w", err))
		return
	}

	dec := gob.NewDecoder(&WSReader{Conn: conn})
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if q.isCancelled() {
				err = nil
			} else {
				err = fmt.Errorf("read frame: %w", err)
			}
			final(err)
			return
		}
		sig := f.Signal()
		onSignal(sig)
		if sig.Kind == results.KindFinal {
			q.mu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			q.conn = nil
			q.mu.Unlock()
			return
		}
	}
}

func (q *remoteQuery) isCancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

func (q *remoteQuery) Extend(limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit = limit
	q.extended = true
	if q.conn != nil && !q.cancelled {
		_ = q.conn.WriteJSON(Control{Type: ControlExtend, Limit: limit})
	}
}

// Cancel asks the agent to stop. If the message cannot be sent the connection
// is closed, which ends Perform with a read error.
func (q *remoteQuery) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled {
		return
	}
	q.cancelled = true
	if q.conn == nil {
		return
	}
	if err := q.conn.WriteJSON(Control{Type: ControlCancel}); err != nil {
		_ = q.conn.Close()
	}
}
