// Package config holds the endpoint templates and request settings used to
// fetch firmware history.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultPrimaryURL   = "https://odinrom.com/samsung/{model}-{region}/"
	DefaultSecondaryURL = "https://fota-cloud-dn.ospserver.net/firmware/{region}/{model}/version.xml"
	DefaultChangelogURL = "https://doc.samsungmobile.com/{model}/{region}/doc.html"
	DefaultUserAgent    = "fwhistory/1.0 (+https://github.com/paulstuart/fwhistory)"
	DefaultTimeout      = 30 * time.Second
)

// Endpoints are URL templates. "{model}" and "{region}" are replaced with the
// path-escaped device model and region.
type Endpoints struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Changelog string `yaml:"changelog"`
}

// Config holds the upstream endpoints and request settings.
type Config struct {
	Endpoints  Endpoints     `yaml:"endpoints"`
	UserAgent  string        `yaml:"userAgent"`
	Timeout    time.Duration `yaml:"timeout"`
	Changelogs bool          `yaml:"changelogs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoints: Endpoints{
			Primary:   DefaultPrimaryURL,
			Secondary: DefaultSecondaryURL,
			Changelog: DefaultChangelogURL,
		},
		UserAgent:  DefaultUserAgent,
		Timeout:    DefaultTimeout,
		Changelogs: true,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every endpoint template expands to an absolute URL.
func (c Config) Validate() error {
	var errs []error
	for name, tmpl := range map[string]string{
		"primary":   c.Endpoints.Primary,
		"secondary": c.Endpoints.Secondary,
		"changelog": c.Endpoints.Changelog,
	} {
		if tmpl == "" {
			continue
		}
		if _, err := Expand(tmpl, "MODEL", "REGION"); err != nil {
			errs = append(errs, fmt.Errorf("%s endpoint: %w", name, err))
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative: %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// Expand fills an endpoint template for a device model and region.
func Expand(tmpl, model, region string) (string, error) {
	raw := strings.NewReplacer(
		"{model}", url.PathEscape(model),
		"{region}", url.PathEscape(region),
	).Replace(tmpl)

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", raw)
	}
	return u.String(), nil
}
