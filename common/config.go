package common

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const ConfigPrefix = "WEBTRACE"

// Config is read from WEBTRACE_* environment variables.
type Config struct {
	ExcludedURLs []string `envconfig:"EXCLUDED_URLS"`
	Component    string   `envconfig:"COMPONENT" default:"web"`
	Legacy       bool     `envconfig:"LEGACY_HEADERS" default:"true"`
	RetryMax     int      `envconfig:"CLIENT_RETRY_MAX" default:"0"`
}

func LoadConfig() (*Config, error) {

	var c Config
	if err := envconfig.Process(ConfigPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "couldn't load config")
	}
	return &c, nil
}

func (c *Config) ExcludeList() *ExcludeList {
	return NewExcludeList(c.ExcludedURLs)
}
