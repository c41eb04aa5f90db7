package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"vmcontroller/pkg/errbuf"
	"vmcontroller/pkg/event"

	"github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"
)

const lifecycleTopic = "lifecycle"

// sseServer wraps the SSE server with helper methods.
type sseServer struct {
	server *sse.Server
}

func newSSEServer() *sseServer {
	return &sseServer{
		server: &sse.Server{
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				logrus.Debugf("sse: new lifecycle subscriber from %q", r.RemoteAddr)
				return []string{lifecycleTopic}, true
			},
		},
	}
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.ServeHTTP(w, r)
}

func (s *sseServer) publish(topic, msgType, data string) {
	msg := &sse.Message{}
	msg.AppendData(data)
	msg.Type = sse.Type(msgType)

	if err := s.server.Publish(msg, topic); err != nil {
		logrus.Warnf("sse: failed to publish message: %v", err)
	}
}

// EventView is the JSON form of a lifecycle event on the wire.
type EventView struct {
	Attempt uint64          `json:"attempt"`
	Kind    string          `json:"kind"`
	Stage   event.StageName `json:"stage"`
	Time    string          `json:"time"`
	Current uint64          `json:"current,omitempty"`
	Total   uint64          `json:"total,omitempty"`
	Errors  []errbuf.Entry  `json:"errors,omitempty"`
}

func NewEventView(e event.Event) EventView {
	return EventView{
		Attempt: e.Attempt,
		Kind:    e.Kind.String(),
		Stage:   e.Stage,
		Time:    e.Time.Format(time.RFC3339Nano),
		Current: e.Current,
		Total:   e.Total,
		Errors:  e.Errors.Entries(),
	}
}

// Notify forwards a lifecycle event to every /events subscriber.
func (s *sseServer) Notify(e event.Event) {
	b, err := json.Marshal(NewEventView(e))
	if err != nil {
		logrus.Warnf("sse: failed to encode %s: %v", e, err)
		return
	}
	s.publish(lifecycleTopic, e.Kind.String(), string(b))
}
