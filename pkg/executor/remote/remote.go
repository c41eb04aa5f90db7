// Package remote drives a VM hosted by a remote orchestrator over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/network"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNoSession = errors.New("no remote session")

type Executor struct {
	endpoint string

	mu        sync.Mutex
	client    *network.Client
	creds     define.Credentials
	session   string
	stopWatch context.CancelFunc
}

var _ controller.Executor = (*Executor)(nil)

// New returns an executor for endpoint. An endpoint without a scheme, such as
// "vm.example.com:8443" or "/run/orchestrator.sock", takes the scheme from the
// credentials handed to Negotiate.
func New(endpoint string) *Executor {
	return &Executor{endpoint: endpoint}
}

func endpointURL(endpoint, scheme string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if scheme == "" {
		scheme = define.SchemeHTTP
	}
	if scheme == define.SchemeUnix {
		return scheme + "://" + endpoint
	}
	return scheme + "://" + strings.TrimPrefix(endpoint, "/")
}

func (e *Executor) request(r *network.Request) *network.Request {
	if e.creds.Username != "" {
		r = r.BasicAuth(e.creds.Username, e.creds.Password)
	}
	if e.session != "" {
		r = r.Query(sessionQuery, e.session)
	}
	return r
}

// Negotiate opens a session on the orchestrator. Progress lines are relayed
// to report as they arrive.
func (e *Executor) Negotiate(ctx context.Context, creds define.Credentials, report controller.ProgressFunc) (controller.Capability, error) {
	e.mu.Lock()
	if e.client == nil {
		client, err := network.NewClientForEndpoint(endpointURL(e.endpoint, creds.Scheme), network.WithTimeout(0))
		if err != nil {
			e.mu.Unlock()
			return controller.Capability{}, err
		}
		e.client = client
	}
	e.creds = creds
	req := e.request(e.client.Post(define.RemoteNegotiateURL).JSONBody(map[string]string{"scheme": creds.Scheme}))
	e.mu.Unlock()

	logrus.Debugf("negotiating with %s as %s", e.endpoint, creds)
	resp, err := req.Do(ctx)
	if err != nil {
		return controller.Capability{}, ctxErr(ctx, err)
	}
	defer network.CloseResponse(resp)
	if err := network.CheckStatus(resp); err != nil {
		return controller.Capability{}, err
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var rec NegotiateRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return controller.Capability{}, errors.New("negotiation ended without a result")
			}
			return controller.Capability{}, ctxErr(ctx, errors.Wrap(err, "read negotiation stream"))
		}

		switch {
		case rec.Error != "":
			return controller.Capability{}, errors.Errorf("remote negotiation failed: %s", rec.Error)
		case rec.HaveMemory != nil:
			e.mu.Lock()
			e.session = rec.Session
			e.mu.Unlock()
			logrus.Infof("remote session %q opened, memory available: %t", rec.Session, *rec.HaveMemory)
			return controller.Capability{HaveMemory: *rec.HaveMemory}, nil
		case rec.Total > 0:
			report(rec.Current, rec.Total)
		}
	}
}

func (e *Executor) Launch(ctx context.Context, report controller.ProgressFunc) (<-chan error, error) {
	e.mu.Lock()
	if e.session == "" {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	req := e.request(e.client.Post(define.RemoteLaunchURL))
	e.mu.Unlock()

	report(0, 1)
	if err := req.DoJSON(ctx, nil); err != nil {
		return nil, ctxErr(ctx, err)
	}
	report(1, 1)

	watchCtx, cancel := context.WithCancel(context.Background())
	exitCh := make(chan error, 1)

	e.mu.Lock()
	e.stopWatch = cancel
	wait := e.request(e.client.Get(define.RemoteWaitURL))
	e.mu.Unlock()

	go watch(watchCtx, wait, exitCh)
	return exitCh, nil
}

// watch waits for the remote VM to exit. A cancelled watch reports a clean exit.
func watch(ctx context.Context, req *network.Request, exitCh chan<- error) {
	defer close(exitCh)

	var rec ExitRecord
	err := req.DoJSON(ctx, &rec)
	switch {
	case ctx.Err() != nil:
		exitCh <- nil
	case err != nil:
		exitCh <- errors.Wrap(err, "lost track of remote vm")
	case rec.Error != "":
		exitCh <- errors.New(rec.Error)
	default:
		exitCh <- nil
	}
}

func (e *Executor) Terminate(ctx context.Context) error {
	e.mu.Lock()
	if e.session == "" || e.stopWatch == nil {
		e.mu.Unlock()
		return nil
	}
	req := e.request(e.client.Post(define.RemoteTerminateURL))
	e.mu.Unlock()

	if err := req.DoJSON(ctx, nil); err != nil {
		return ctxErr(ctx, err)
	}

	e.mu.Lock()
	if e.stopWatch != nil {
		e.stopWatch()
		e.stopWatch = nil
	}
	e.mu.Unlock()
	return nil
}

// Close releases the remote session. Calling it without a session does nothing.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopWatch != nil {
		e.stopWatch()
		e.stopWatch = nil
	}
	if e.session == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), define.DefaultStopTimeout)
	defer cancel()
	err := e.request(e.client.Post(define.RemoteReleaseURL)).DoJSON(ctx, nil)
	logrus.Debugf("released remote session %q", e.session)
	e.session = ""
	if err != nil {
		return errors.Wrap(err, "release remote session")
	}
	return nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
