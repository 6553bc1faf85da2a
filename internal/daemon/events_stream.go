package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"docbatch/internal/api"
	"docbatch/internal/events"
	"docbatch/internal/logging"
)

const (
	streamBatchLimit   = 256
	streamWriteTimeout = 10 * time.Second
	// progressPerSecond caps progress frames per connection; state and
	// checkpoint events are always delivered.
	progressPerSecond = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams a job's events over a websocket until the job
// reaches a terminal state or the client disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	since := api.ParseSince(r.URL.Query().Get("since"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		select {
		case <-s.done():
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := s.logger.With(logging.String(logging.FieldJobID, id))
	logger.Debug("event stream opened", logging.Int64("since", int64(since)))

	if job.Status.IsTerminal() {
		backlog, _ := s.daemon.hub.Tail(id, 0)
		if len(backlog) == 0 || !backlog[len(backlog)-1].Terminal() {
			s.writeEvent(conn, events.Event{
				JobID:     id,
				Kind:      events.KindState,
				State:     string(job.Status),
				Reason:    job.ErrorMessage,
				Timestamp: job.UpdatedAt,
			})
			s.closeStream(conn)
			return
		}
	}

	limiter := rate.NewLimiter(rate.Limit(progressPerSecond), 1)
	for {
		batch, next, err := s.daemon.hub.Fetch(ctx, id, since, streamBatchLimit, true)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("event stream ended", logging.Error(err))
			}
			return
		}
		since = next
		for i, evt := range batch {
			last := i == len(batch)-1
			if evt.Kind == events.KindProgress && !last && !limiter.Allow() {
				continue
			}
			if err := s.writeEvent(conn, evt); err != nil {
				logger.Debug("event stream write failed", logging.Error(err))
				return
			}
			if evt.Terminal() {
				s.closeStream(conn)
				return
			}
		}
	}
}

func (s *apiServer) writeEvent(conn *websocket.Conn, evt events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(evt)
}

func (s *apiServer) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
