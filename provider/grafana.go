package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
	"github.com/pkg/errors"
)

type GrafanaAnnotationResponse struct {
	Message string `json:"message"`
	ID      int    `json:"id"`
}

type GrafanaAnnotation struct {
	Time    int64    `json:"time"`
	TimeEnd int64    `json:"timeEnd"`
	Tags    []string `json:"tags"`
	Text    string   `json:"text"`
}

type GrafanaOptions struct {
	URL      string
	ApiKey   string
	Tags     string
	Version  string
	Timeout  int
	Duration int
}

type GrafanaEventerOptions struct {
	GrafanaOptions
	Endpoint string
}

type GrafanaEventer struct {
	options GrafanaEventerOptions
	logger  common.Logger
	tags    []string
	client  *http.Client
	ctx     context.Context
}

func (ge *GrafanaEventer) httpDoRequest(method, query string, params url.Values, buf io.Reader) ([]byte, int, error) {

	u, err := url.Parse(ge.options.URL)
	if err != nil {
		return nil, 0, err
	}
	u.Path = path.Join(u.Path, query)
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ge.ctx, method, u.String(), buf)
	if err != nil {
		return nil, 0, err
	}
	if !utils.IsEmpty(ge.options.ApiKey) && !strings.Contains(ge.options.ApiKey, ":") {
		req.Header.Set("Authorization", "Bearer "+ge.options.ApiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := ge.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	data, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	return data, resp.StatusCode, err
}

func (ge *GrafanaEventer) httpPost(query string, params url.Values, body []byte) ([]byte, int, error) {
	return ge.httpDoRequest("POST", query, params, bytes.NewBuffer(body))
}

func (ge *GrafanaEventer) createAnnotation(a GrafanaAnnotation) (*GrafanaAnnotationResponse, error) {

	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	raw, code, err := ge.httpPost(ge.options.Endpoint, nil, b)
	if err != nil {
		return nil, errors.Wrap(err, "grafana annotation")
	}
	if code != 200 {
		return nil, errors.Errorf("HTTP error %d: returns %s", code, raw)
	}

	var res GrafanaAnnotationResponse
	err = json.Unmarshal(raw, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func annotationText(name string, attributes map[string]string) string {

	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("\n%s: %s", k, attributes[k]))
	}
	return sb.String()
}

func (ge *GrafanaEventer) Now(name string, attributes map[string]string) error {
	return ge.At(name, attributes, time.Now())
}

func (ge *GrafanaEventer) At(name string, attributes map[string]string, when time.Time) error {
	return ge.Interval(name, attributes, when, when.Add(time.Duration(ge.options.Duration)*time.Millisecond))
}

func (ge *GrafanaEventer) Interval(name string, attributes map[string]string, begin, end time.Time) error {

	a := GrafanaAnnotation{
		Time:    begin.UTC().UnixMilli(),
		TimeEnd: end.UTC().UnixMilli(),
		Tags:    append(append([]string{}, ge.tags...), name),
		Text:    annotationText(name, attributes),
	}

	ar, err := ge.createAnnotation(a)
	if err != nil {
		ge.logger.Error(err)
		return err
	}
	ge.logger.Debug("Annotation %d. %s", ar.ID, ar.Message)
	return nil
}

func (ge *GrafanaEventer) Stop() {
	ge.client.CloseIdleConnections()
}

func NewGrafanaEventer(options GrafanaEventerOptions, logger common.Logger, stdout *Stdout) *GrafanaEventer {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.URL) || utils.IsEmpty(options.Endpoint) {
		stdout.Debug("Grafana eventer is disabled.")
		return nil
	}

	logger.Info("Grafana eventer is up...")

	return &GrafanaEventer{
		options: options,
		logger:  logger,
		tags:    common.MapToArray(common.GetKeyValues(options.Tags)),
		client:  common.MakeHttpClient(options.Timeout),
		ctx:     context.Background(),
	}
}
