package provider

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStdout() *Stdout {
	stdout := NewStdout(StdoutOptions{Format: "text", Level: "error"})
	stdout.SetOutput(ioutil.Discard)
	return stdout
}

func TestGrafanaEventer(t *testing.T) {

	var annotation GrafanaAnnotation
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/annotations" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&annotation)
		w.Write([]byte(`{"message":"Annotation added","id":7}`))
	}))
	defer server.Close()

	stdout := testStdout()
	if NewGrafanaEventer(GrafanaEventerOptions{}, nil, stdout) != nil {
		t.Fatal("Invalid grafana eventer, must be disabled")
	}

	ge := NewGrafanaEventer(GrafanaEventerOptions{
		GrafanaOptions: GrafanaOptions{URL: server.URL, ApiKey: "key", Tags: "env=test", Timeout: 5},
		Endpoint:       "/api/annotations",
	}, nil, stdout)
	require.NotNil(t, ge)

	begin := time.Now()
	err := ge.Interval("BadHandler.get", map[string]string{"status": "500"}, begin, begin.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, []string{"env=test", "BadHandler.get"}, annotation.Tags)
	assert.Equal(t, "BadHandler.get\nstatus: 500", annotation.Text)
	assert.Equal(t, begin.UTC().UnixMilli()+1000, annotation.TimeEnd)

	ge.options.Endpoint = "/missing"
	assert.Error(t, ge.Now("event", nil))
	ge.Stop()
}

func TestSlackEventer(t *testing.T) {

	var message slackMessage
	status := http.StatusOK

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&message)
		w.WriteHeader(status)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	stdout := testStdout()
	if NewSlackEventer(SlackOptions{}, nil, stdout) != nil {
		t.Fatal("Invalid slack eventer, must be disabled")
	}

	se := NewSlackEventer(SlackOptions{WebHook: server.URL, Timeout: 5}, nil, stdout)
	require.NotNil(t, se)

	require.NoError(t, se.Now("BadHandler.get", map[string]string{"trace_id": "abc"}))
	assert.True(t, strings.HasPrefix(message.Text, "BadHandler.get\ntrace_id: abc"))

	status = http.StatusBadRequest
	assert.Error(t, se.Now("event", nil))
	se.Stop()
}

type dataDogEvent struct {
	Title          string   `json:"title"`
	Text           string   `json:"text"`
	DateHappened   int64    `json:"date_happened"`
	AlertType      string   `json:"alert_type"`
	AggregationKey string   `json:"aggregation_key"`
	Tags           []string `json:"tags"`
}

func TestDataDogEventer(t *testing.T) {

	var event dataDogEvent
	var apiKey string
	status := http.StatusAccepted

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("DD-API-KEY")
		if r.URL.Path != "/api/v1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&event)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"status":"ok","id":42}`))
	}))
	defer server.Close()

	stdout := testStdout()
	if NewDataDogEventer(DataDogEventerOptions{}, nil, stdout) != nil {
		t.Fatal("Invalid datadog eventer, must be disabled")
	}

	dde := NewDataDogEventer(DataDogEventerOptions{
		DataDogOptions: DataDogOptions{
			ApiKey:      "dd-key",
			ServiceName: "webtrace",
			Environment: "test",
			Tags:        "team=sre",
		},
		URL:     server.URL,
		Timeout: 5,
	}, nil, stdout)
	require.NotNil(t, dde)

	begin := time.Now()
	err := dde.Interval("BadHandler.get", map[string]string{"status": "500", "target": "/error"}, begin, begin.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, "dd-key", apiKey)
	assert.Equal(t, "BadHandler.get", event.Title)
	assert.Equal(t, "BadHandler.get", event.AggregationKey)
	assert.Equal(t, begin.Unix(), event.DateHappened)
	assert.Equal(t, "error", event.AlertType)
	assert.Equal(t, []string{"team:sre", "service:webtrace", "env:test", "target:/error"}, event.Tags)
	if !strings.Contains(event.Text, "status: 500") || !strings.Contains(event.Text, "duration: 1s") {
		t.Fatal("Invalid datadog event text", event.Text)
	}

	require.NoError(t, dde.Now("MainHandler.get", map[string]string{"status": "404"}))
	assert.Equal(t, "warning", event.AlertType)
	assert.False(t, strings.Contains(event.Text, "duration"))

	status = http.StatusForbidden
	assert.Error(t, dde.Now("event", nil))
	dde.Stop()
}

func TestDataDogEventerWrongURL(t *testing.T) {

	dde := NewDataDogEventer(DataDogEventerOptions{
		DataDogOptions: DataDogOptions{ApiKey: "dd-key"},
		URL:            "http://[::1",
	}, nil, testStdout())
	if dde != nil {
		t.Fatal("Invalid datadog eventer, must fail on wrong URL")
	}
}
