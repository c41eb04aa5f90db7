package httpserver

import (
	"context"
	"errors"
	"net/http"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/vmconfig"

	"github.com/sirupsen/logrus"
)

// ManagementAPIServer provides a REST API for driving the VM controller.
// It listens on a Unix socket on the host.
//
// Endpoints:
//   - GET  /healthz    - Health check
//   - GET  /state      - Controller state, memory capability and attempt
//   - GET  /vmconfig   - The VM configuration, when the VM runs locally
//   - POST /initialize - Begin negotiation
//   - POST /start      - Boot the VM
//   - POST /stop       - Stop the VM gracefully
//   - POST /cancel     - Abandon the current startup attempt
//   - POST /shutdown   - Release everything and dispose the controller
//   - GET  /events     - Lifecycle events (SSE)
//   - GET  /metrics    - Prometheus metrics
type ManagementAPIServer struct {
	ctrl    *controller.Controller
	vmc     *vmconfig.VMConfig
	srv     *httpServer
	sse     *sseServer
	metrics *lifecycleMetrics
}

// NewManagementAPIServer creates a httpserver for ctrl listening on addr
// (unix:///path/to.sock). vmc may be nil.
func NewManagementAPIServer(addr string, ctrl *controller.Controller, vmc *vmconfig.VMConfig) *ManagementAPIServer {
	s := &ManagementAPIServer{
		ctrl: ctrl,
		vmc:  vmc,
		srv:  newHTTPServer("management-api", addr),
		sse:  newSSEServer(),

		metrics: newLifecycleMetrics(ctrl),
	}
	s.routes()
	return s
}

func (s *ManagementAPIServer) routes() {
	s.srv.mux.HandleFunc(define.RestAPIHealthzURL, s.handleHealth)
	s.srv.mux.HandleFunc(define.RestAPIStateURL, s.handleState)
	s.srv.mux.HandleFunc(define.RestAPIVMConfigURL, s.handleVMConfig)
	s.srv.mux.HandleFunc(define.RestAPIInitializeURL, s.handleOp(s.ctrl.Initialize))
	s.srv.mux.HandleFunc(define.RestAPIStartURL, s.handleOp(s.ctrl.StartVM))
	s.srv.mux.HandleFunc(define.RestAPIStopURL, s.handleOp(s.ctrl.StopVM))
	s.srv.mux.HandleFunc(define.RestAPICancelURL, s.handleCancel)
	s.srv.mux.HandleFunc(define.RestAPIShutdownURL, s.handleShutdown)
	s.srv.mux.HandleFunc(define.RestAPIEventsURL, s.handleEvents)
	s.srv.mux.Handle(define.RestAPIMetricsURL, s.metrics.handler())
}

// Start begins serving requests. Blocks until context is cancelled.
func (s *ManagementAPIServer) Start(ctx context.Context) error {
	unsubscribe := s.ctrl.Subscribe(s.sse)
	defer unsubscribe()
	unsubscribeMetrics := s.ctrl.Subscribe(s.metrics)
	defer unsubscribeMetrics()

	return s.srv.serve(ctx)
}

// StateResponse is the body of GET /state and of accepted operations.
type StateResponse struct {
	State     string `json:"state"`
	Memory    string `json:"memory"`
	Attempt   uint64 `json:"attempt"`
	LastError string `json:"lastError,omitempty"`
}

func (s *ManagementAPIServer) state() StateResponse {
	resp := StateResponse{
		State:   s.ctrl.State().String(),
		Memory:  s.ctrl.MemoryCapability().String(),
		Attempt: s.ctrl.Attempt(),
	}
	if err := s.ctrl.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

func (s *ManagementAPIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}

func (s *ManagementAPIServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	WriteJSON(w, http.StatusOK, s.state())
}

func (s *ManagementAPIServer) handleVMConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	if s.vmc == nil {
		WriteJSON(w, http.StatusNotFound, ErrResponse{Error: "vm does not run locally"})
		return
	}
	WriteJSON(w, http.StatusOK, s.vmc)
}

// handleOp runs a non-blocking controller operation. Its outcome arrives on /events.
func (s *ManagementAPIServer) handleOp(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteJSON(w, http.StatusMethodNotAllowed, nil)
			return
		}
		if err := op(); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, controller.ErrInvalidState) {
				code = http.StatusConflict
			}
			logrus.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, code, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, s.state())
	}
}

func (s *ManagementAPIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": s.ctrl.Cancel()})
}

func (s *ManagementAPIServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	if err := s.ctrl.Shutdown(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.state())
}

func (s *ManagementAPIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sse.ServeHTTP(w, r)
}
