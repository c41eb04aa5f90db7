package event

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vmcontroller/pkg/errbuf"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter(t *testing.T) {
	dir, err := os.MkdirTemp("", "report")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "report.sock")

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	got := make(chan url.Values, 8)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/notify" {
			got <- r.URL.Query()
		}
	}))
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	r := InitializeReporter("unix://" + sock)
	require.NotNil(t, r)
	defer r.Close()

	r.Notify(Progress(1, Init, 3, 10))
	buf := errbuf.New()
	require.NoError(t, buf.Add("launch", errors.New("no hypervisor")))
	r.Notify(Failed(1, Run, buf))

	for _, want := range []url.Values{
		{"stage": {"init"}, "name": {"Progress"}, "value": {"3/10"}},
		{"stage": {"run"}, "name": {"Failed"}, "value": {"launch: no hypervisor"}},
	} {
		select {
		case q := <-got:
			assert.Equal(t, want, q)
		case <-time.After(5 * time.Second):
			t.Fatal("no report received")
		}
	}
}

func TestReporterDisabled(t *testing.T) {
	assert.Nil(t, InitializeReporter(""))
	assert.Nil(t, InitializeReporter("tcp://127.0.0.1:1"))

	var r *Reporter
	r.Notify(Complete(1, Run))
	assert.NoError(t, r.Close())
}

func TestLogObserver(t *testing.T) {
	buf := errbuf.New()
	require.NoError(t, buf.Addf("negotiate", "refused by %s", "orchestrator"))

	for _, e := range []Event{
		Progress(1, Init, 0, 1),
		Complete(1, Run),
		RejectedMemory(1, Init),
		Failed(1, Init, buf),
		Cancelled(1, Init),
	} {
		assert.NotPanics(t, func() { LogObserver{}.Notify(e) })
	}
}
