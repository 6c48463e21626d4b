package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/kvstore"
	"github.com/cuemby/cos/internal/logx"
)

// TailRequest is the command published on a queue topic to ask the
// subscribing agent to begin (or continue) tailing a task's log output.
// RequestID is minted by RequestFile when the caller leaves it empty.
type TailRequest struct {
	RequestID  string
	TaskID     string
	QueueTopic string
}

// SendContentToSession is relayed on eventbus.TopicWebSocket once a log
// fragment has been correlated back to the session that asked for it.
type SendContentToSession struct {
	SessionID string
	Content   string
}

// Streamer is the Realtime Streamer.
type Streamer struct {
	reqs *kvstore.WsReqInfoStore
	bus  *eventbus.Broker
	ttl  time.Duration
}

// New builds a Streamer. ttl bounds how long a request_id/session_id
// correlation survives without a matching fragment (default 1h).
func New(reqs *kvstore.WsReqInfoStore, bus *eventbus.Broker, ttl time.Duration) *Streamer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Streamer{reqs: reqs, bus: bus, ttl: ttl}
}

// RequestFile begins (or resumes) a tail: it publishes req on the task's
// queue topic so the remote agent starts streaming, and records the
// request_id -> session_id correlation under a lease. Returns the
// request_id used, minting one if req.RequestID is empty.
func (s *Streamer) RequestFile(ctx context.Context, sessionID string, req TailRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.bus.Publish(eventbus.QueueTopic(req.QueueTopic), req)

	info := domain.WsReqInfo{RequestID: req.RequestID, SessionID: sessionID}
	if err := s.reqs.Put(info, s.ttl); err != nil {
		return "", errs.Wrap(errs.Transient, "failed to persist realtime correlation", err)
	}

	logx.WithComponent("realtime").Debug().Str("request_id", req.RequestID).Str("session_id", sessionID).Msg("realtime tail requested")
	return req.RequestID, nil
}

// SendFragment is called as the agent reports a log fragment for
// requestID. It resolves the owning session and relays the content on the
// internal websocket topic.
func (s *Streamer) SendFragment(ctx context.Context, requestID, content string) error {
	info, ok, err := s.reqs.Get(requestID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to read realtime correlation", err)
	}
	if !ok {
		return errs.NewNotFound("no realtime session for request " + requestID)
	}

	s.bus.Publish(eventbus.TopicWebSocket, SendContentToSession{SessionID: info.SessionID, Content: content})
	return nil
}
