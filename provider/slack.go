package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/devopsext/utils"
	"github.com/devopsext/webtrace/common"
	"github.com/pkg/errors"
)

type SlackOptions struct {
	WebHook string
	Tags    string
	Timeout int
}

type SlackEventer struct {
	options SlackOptions
	logger  common.Logger
	tags    []string
	client  *http.Client
}

type slackMessage struct {
	Text string `json:"text"`
}

func (se *SlackEventer) Now(name string, attributes map[string]string) error {
	return se.At(name, attributes, time.Now())
}

func (se *SlackEventer) At(name string, attributes map[string]string, when time.Time) error {
	return se.Interval(name, attributes, when, when)
}

func (se *SlackEventer) Interval(name string, attributes map[string]string, begin, end time.Time) error {

	var body []byte

	if payload, ok := attributes["payload"]; ok {
		body = []byte(payload)
	} else {
		text := annotationText(name, attributes)
		if len(se.tags) > 0 {
			text = fmt.Sprintf("%s\n%v", text, se.tags)
		}
		if !end.Equal(begin) {
			text = fmt.Sprintf("%s\nduration: %s", text, end.Sub(begin))
		}
		b, err := json.Marshal(slackMessage{Text: text})
		if err != nil {
			return err
		}
		body = b
	}

	resp, err := se.client.Post(se.options.WebHook, "application/json", bytes.NewBuffer(body))
	if err != nil {
		se.logger.Error(err)
		return errors.Wrap(err, "slack post")
	}
	defer resp.Body.Close()

	rBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "slack post response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("slack returns %d: %s", resp.StatusCode, rBody)
	}
	se.logger.Debug(string(rBody))
	return nil
}

func (se *SlackEventer) Stop() {
	se.client.CloseIdleConnections()
	se.logger.Info("Slack Eventer stopped.")
}

func NewSlackEventer(options SlackOptions, logger common.Logger, stdout *Stdout) *SlackEventer {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.WebHook) {
		logger.Debug("Slack Eventer is disabled")
		return nil
	}

	logger.Info("Slack Eventer is up...")

	return &SlackEventer{
		options: options,
		logger:  logger,
		tags:    common.MapToArray(common.GetKeyValues(options.Tags)),
		client:  common.MakeHttpClient(options.Timeout),
	}
}
