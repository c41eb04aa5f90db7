package event

import (
	"context"
	"fmt"
	"time"

	"vmcontroller/pkg/network"

	"github.com/sirupsen/logrus"
)

const reportTimeout = 1 * time.Second

// Reporter forwards lifecycle events to an external listener on a unix socket
// as GET /notify?stage=<stage>&name=<kind>&value=<detail>.
type Reporter struct {
	client *network.Client
}

// InitializeReporter returns nil when endpoint is empty or unusable; a nil
// Reporter drops every event.
func InitializeReporter(endpoint string) *Reporter {
	if endpoint == "" {
		return nil
	}

	addr, err := network.ParseUnixAddr(endpoint)
	if err != nil {
		logrus.Warnf("event reporter disabled: %v", err)
		return nil
	}

	return &Reporter{
		client: network.NewUnixClient(addr.Path, network.WithTimeout(reportTimeout)),
	}
}

func (r *Reporter) Notify(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := r.sendEvent(ctx, e.Stage, e.Kind.String(), reportValue(e)); err != nil {
		logrus.Debugf("failed to report %s: %v", e, err)
	}
}

func reportValue(e Event) string {
	switch e.Kind {
	case KindProgress:
		return fmt.Sprintf("%d/%d", e.Current, e.Total)
	case KindFailed:
		return e.Errors.Error()
	default:
		return ""
	}
}

func (r *Reporter) sendEvent(ctx context.Context, stage StageName, name, value string) error {
	if r == nil || r.client == nil {
		return nil
	}

	resp, err := r.client.Get("/notify").
		Query("stage", string(stage)).
		Query("name", name).
		Query("value", value).
		Do(ctx)
	if err != nil {
		return err
	}

	network.CloseResponse(resp)
	return nil
}

// Close closes the reporter's HTTP client
func (r *Reporter) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// LogObserver writes every event through logrus.
type LogObserver struct{}

func (LogObserver) Notify(e Event) {
	switch e.Kind {
	case KindProgress:
		logrus.Debugf("%s progress %d/%d", e.Stage, e.Current, e.Total)
	case KindFailed:
		logrus.Errorf("%s failed (attempt %d): %v", e.Stage, e.Attempt, e.Errors)
		for _, entry := range e.Errors.Entries() {
			if entry.Detail != "" {
				logrus.Debugf("%s", entry.Detail)
			}
		}
	case KindRejectedMemory:
		logrus.Warnf("%s rejected (attempt %d): not enough memory on the host", e.Stage, e.Attempt)
	default:
		logrus.Infof("%s %s (attempt %d)", e.Stage, e.Kind, e.Attempt)
	}
}
