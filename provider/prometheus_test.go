package provider

import (
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devopsext/webtrace/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prometheusValues(content string) map[string]string {

	m := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		parts := strings.Split(line, " ")
		if len(parts) > 1 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

func TestPrometheus(t *testing.T) {

	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	URL := "/metrics"

	// firstPrefix_secondPrefix_metricName => test_webtrace_spans
	prometheus := NewPrometheusMeter(PrometheusOptions{
		URL:    URL,
		Listen: fmt.Sprintf("localhost:%d", port),
		Prefix: "test",
	}, nil, testStdout())
	if prometheus == nil {
		t.Fatal("Invalid prometheus")
	}

	var wg sync.WaitGroup
	prometheus.StartInWaitGroup(&wg)
	defer prometheus.Stop()

	labels := make(common.Labels)
	labels["kind"] = "server"
	labels["status"] = "200"

	counter := prometheus.Counter("spans", "description", labels, "webtrace")
	if counter == nil {
		t.Fatal("Invalid prometheus")
	}

	maxCounter := 5
	for i := 0; i < maxCounter; i++ {
		counter.Inc()
	}

	var r *http.Response
	require.Eventually(t, func() bool {
		r, err = http.Get(fmt.Sprintf("http://localhost:%d%s", port, URL))
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)

	if r.StatusCode != 200 {
		t.Fatalf("None 200 response: %d", r.StatusCode)
	}

	content, err := ioutil.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	value := prometheusValues(string(content))[`test_webtrace_spans{kind="server",status="200"}`]
	if value != strconv.Itoa(maxCounter) {
		t.Fatalf("Invalid metric value %s, expected %d", value, maxCounter)
	}
}

func TestPrometheusGaugeHistogram(t *testing.T) {

	prometheus := NewPrometheusMeter(PrometheusOptions{URL: "/metrics"}, nil, testStdout())

	gauge := prometheus.Gauge("inflight_requests", "description", nil, "webtrace")
	gauge.Set(3)
	gauge.Set(2)

	prometheus.Histogram("span_duration_ms", "description", common.Labels{"kind": "client"}, "webtrace").Observe(12)

	w := httptest.NewRecorder()
	prometheus.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	content := w.Body.String()
	assert.Equal(t, "2", prometheusValues(content)["webtrace_inflight_requests"])
	assert.Contains(t, content, `webtrace_span_duration_ms_count{kind="client"} 1`)
}

func TestPrometheusWrongListen(t *testing.T) {

	prometheus := NewPrometheusMeter(PrometheusOptions{
		URL:    "/wrong",
		Listen: fmt.Sprintf("%s:%d", common.GetGuid(), 10000),
		Prefix: "test",
	}, nil, testStdout())
	if prometheus == nil {
		t.Fatal("Invalid prometheus")
	}

	if prometheus.Start() {
		t.Fatal("Invalid startup option")
	}
}
