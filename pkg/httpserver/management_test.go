package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vmcontroller/pkg/controller"
	"vmcontroller/pkg/define"
	"vmcontroller/pkg/executor/simulated"
	"vmcontroller/pkg/network"
	"vmcontroller/pkg/vmconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, vmc *vmconfig.VMConfig) (*ManagementAPIServer, *httptest.Server) {
	t.Helper()
	cfg := simulated.Default()
	cfg.StepDelay = 0
	ctrl := controller.New(simulated.New(cfg))
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	s := NewManagementAPIServer("unix:///unused.sock", ctrl, vmc)
	ts := httptest.NewServer(s.srv.mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { network.CloseResponse(resp) })
	return resp
}

func getState(t *testing.T, ts *httptest.Server) StateResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + define.RestAPIStateURL)
	require.NoError(t, err)
	defer network.CloseResponse(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestHealthz(t *testing.T) {
	_, ts := newTestAPI(t, nil)

	resp, err := http.Get(ts.URL + define.RestAPIHealthzURL)
	require.NoError(t, err)
	network.CloseResponse(resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts, define.RestAPIHealthzURL)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInvalidStateIsConflict(t *testing.T) {
	_, ts := newTestAPI(t, nil)

	resp := post(t, ts, define.RestAPIStartURL)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ErrResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid state")

	assert.Equal(t, "created", getState(t, ts).State)
}

func TestLifecycleOverAPI(t *testing.T) {
	s, ts := newTestAPI(t, nil)

	resp := post(t, ts, define.RestAPIInitializeURL)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.ctrl.WaitForState(ctx, controller.StateReady)
	require.NoError(t, err)

	st := getState(t, ts)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, "available", st.Memory)
	assert.Equal(t, uint64(1), st.Attempt)

	resp = post(t, ts, define.RestAPIStartURL)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, err = s.ctrl.WaitForState(ctx, controller.StateRunning)
	require.NoError(t, err)

	resp = post(t, ts, define.RestAPIStopURL)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, err = s.ctrl.WaitForState(ctx, controller.StateStopped)
	require.NoError(t, err)

	resp = post(t, ts, define.RestAPICancelURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cancelled))
	assert.False(t, cancelled["cancelled"])

	resp = post(t, ts, define.RestAPIShutdownURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disposed", getState(t, ts).State)

	resp = post(t, ts, define.RestAPIShutdownURL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVMConfig(t *testing.T) {
	_, ts := newTestAPI(t, nil)
	resp, err := http.Get(ts.URL + define.RestAPIVMConfigURL)
	require.NoError(t, err)
	network.CloseResponse(resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	vmc := vmconfig.NewVMConfig().WithResources(2048, 2)
	_, ts = newTestAPI(t, vmc)
	resp, err = http.Get(ts.URL + define.RestAPIVMConfigURL)
	require.NoError(t, err)
	defer network.CloseResponse(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got vmconfig.VMConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint64(2048), got.MemoryInMB)
	assert.Equal(t, uint(2), got.Cpus)
}

func TestEventsStream(t *testing.T) {
	s, ts := newTestAPI(t, nil)
	s.ctrl.Subscribe(s.sse)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+define.RestAPIEventsURL, nil)
	require.NoError(t, err)

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer network.CloseResponse(resp)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// the subscription is registered asynchronously; ping until it is
	waitFor := func(prefix string, publish func()) string {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "event stream closed")
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-tick.C:
				if publish != nil {
					publish()
				}
			case <-ctx.Done():
				t.Fatalf("no %q line on the event stream", prefix)
			}
		}
	}
	waitFor("event: ping", func() { s.sse.publish(lifecycleTopic, "ping", "ping") })

	require.Equal(t, http.StatusAccepted, post(t, ts, define.RestAPIInitializeURL).StatusCode)
	_, err = s.ctrl.WaitForState(ctx, controller.StateReady)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, post(t, ts, define.RestAPIStartURL).StatusCode)

	waitFor("event: Complete", nil)
	data := waitFor("data: ", nil)

	var view EventView
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &view))
	assert.Equal(t, "Complete", view.Kind)
	assert.Equal(t, uint64(1), view.Attempt)
	assert.Equal(t, "run", string(view.Stage))
}

func TestServeOnUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "vmctl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "api.sock")

	ctrl := controller.New(simulated.New(simulated.Config{}))
	defer ctrl.Shutdown(context.Background())
	s := NewManagementAPIServer("unix://"+sock, ctrl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Start(ctx) }()

	client := network.NewUnixClient(sock)
	defer client.Close()

	var st StateResponse
	require.Eventually(t, func() bool {
		return client.Get(define.RestAPIStateURL).DoJSON(context.Background(), &st) == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "created", st.State)

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoFileExists(t, sock)
}
