// Package query owns the per-folder lifecycle: configuration parsing,
// the folder state machine and the concurrent fetch/cache engine that
// keeps each folder's snapshot current.
package query

import (
	"fmt"
	"strings"
	"time"

	"issuefs/internal/tracker"

	pkgerrors "github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// DefaultRefreshInterval is the staleness threshold applied when a
// config does not set refresh_seconds.
const DefaultRefreshInterval = 5 * time.Minute

// ConfigError marks a config.yaml that could not be parsed or that
// references a tracker this mount has no client for. The folder keeps
// serving its previous data; the error is shown in diagnostics.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IDList accepts YAML sequences mixing ints and strings, since GitHub
// issue numbers are naturally written unquoted.
type IDList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IDList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw []interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case int:
			out = append(out, fmt.Sprintf("%d", v))
		default:
			return fmt.Errorf("issue id %v is neither string nor int", item)
		}
	}
	*l = out
	return nil
}

// JiraSpec is one Jira query entry.
type JiraSpec struct {
	JQL    string `yaml:"jql"`
	Issues IDList `yaml:"issues,omitempty"`
}

// GitHubSpec is one GitHub query entry. Repo scopes both the search
// and the explicit issue numbers.
type GitHubSpec struct {
	Repo   string `yaml:"repo"`
	Query  string `yaml:"q"`
	Issues IDList `yaml:"issues,omitempty"`
}

// GenericSpec is the query entry shape shared by Bugzilla and Redmine.
type GenericSpec struct {
	Query  string `yaml:"query"`
	Issues IDList `yaml:"issues,omitempty"`
}

// Config is the parsed form of a folder's config.yaml. Unknown
// top-level keys are ignored by the YAML decoder.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Persistent     bool          `yaml:"persistent"`
	RefreshSeconds int           `yaml:"refresh_seconds,omitempty"`
	Jira           []JiraSpec    `yaml:"jira,omitempty"`
	GitHub         []GitHubSpec  `yaml:"github,omitempty"`
	Bugzilla       []GenericSpec `yaml:"bugzilla,omitempty"`
	Redmine        []GenericSpec `yaml:"redmine,omitempty"`
}

// ParseConfig decodes a config.yaml buffer.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Err: pkgerrors.Wrap(err, "parse yaml")}
	}
	return &cfg, nil
}

// Render serializes the config back to YAML. Used to serve reads of
// config.yaml so the file always reflects the applied configuration.
func (c *Config) Render() []byte {
	data, err := yaml.Marshal(c)
	if err != nil {
		// Config only holds plain exported fields; Marshal cannot fail
		// on it short of a programming error.
		return []byte("enabled: false\n")
	}
	return data
}

// DefaultConfig is the disabled configuration seeded into a freshly
// created query folder.
func DefaultConfig() *Config {
	return &Config{Enabled: false, Persistent: false}
}

// RefreshInterval returns the configured staleness threshold.
func (c *Config) RefreshInterval() time.Duration {
	if c.RefreshSeconds > 0 {
		return time.Duration(c.RefreshSeconds) * time.Second
	}
	return DefaultRefreshInterval
}

// fetchSpec is one independent call the refresh fan-out will make.
type fetchSpec struct {
	kind     tracker.Kind
	query    string   // empty for explicit-id groups
	ids      []string // empty for query groups
	explicit bool
}

// fetchSpecs flattens the config into independent tracker calls: one
// per query string plus one per explicit-id group. Specs referencing a
// tracker without a configured client yield an error instead.
func (c *Config) fetchSpecs(clients map[tracker.Kind]tracker.Client) ([]fetchSpec, error) {
	var specs []fetchSpec

	require := func(kind tracker.Kind) error {
		if _, ok := clients[kind]; !ok {
			return &ConfigError{Err: fmt.Errorf("no %s client configured for this mount", kind)}
		}
		return nil
	}

	for _, spec := range c.Jira {
		if spec.JQL == "" && len(spec.Issues) == 0 {
			continue
		}
		if err := require(tracker.KindJira); err != nil {
			return nil, err
		}
		if spec.JQL != "" {
			specs = append(specs, fetchSpec{kind: tracker.KindJira, query: spec.JQL})
		}
		if len(spec.Issues) > 0 {
			specs = append(specs, fetchSpec{kind: tracker.KindJira, ids: spec.Issues, explicit: true})
		}
	}

	for _, spec := range c.GitHub {
		if spec.Repo == "" {
			return nil, &ConfigError{Err: fmt.Errorf("github entry is missing repo")}
		}
		if spec.Query == "" && len(spec.Issues) == 0 {
			continue
		}
		if err := require(tracker.KindGitHub); err != nil {
			return nil, err
		}
		if spec.Query != "" {
			specs = append(specs, fetchSpec{
				kind:  tracker.KindGitHub,
				query: githubQuery(spec.Query, spec.Repo),
			})
		}
		if len(spec.Issues) > 0 {
			ids := make([]string, 0, len(spec.Issues))
			for _, id := range spec.Issues {
				ids = append(ids, spec.Repo+"#"+id)
			}
			specs = append(specs, fetchSpec{kind: tracker.KindGitHub, ids: ids, explicit: true})
		}
	}

	generic := func(kind tracker.Kind, entries []GenericSpec) error {
		for _, spec := range entries {
			if spec.Query == "" && len(spec.Issues) == 0 {
				continue
			}
			if err := require(kind); err != nil {
				return err
			}
			if spec.Query != "" {
				specs = append(specs, fetchSpec{kind: kind, query: spec.Query})
			}
			if len(spec.Issues) > 0 {
				specs = append(specs, fetchSpec{kind: kind, ids: spec.Issues, explicit: true})
			}
		}
		return nil
	}
	if err := generic(tracker.KindBugzilla, c.Bugzilla); err != nil {
		return nil, err
	}
	if err := generic(tracker.KindRedmine, c.Redmine); err != nil {
		return nil, err
	}

	return specs, nil
}

func githubQuery(q, repo string) string {
	scope := "repo:" + repo
	for _, field := range strings.Fields(q) {
		if field == scope {
			return q
		}
	}
	return strings.TrimSpace(q + " " + scope)
}
