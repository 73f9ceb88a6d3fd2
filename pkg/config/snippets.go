package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultDropinDirs are scanned in order; snippets from later directories
// override earlier ones, and within a directory files merge in lexical
// order.
var DefaultDropinDirs = []string{
	"/usr/lib/shepherd/config.d",
	"/run/shepherd/config.d",
	"/etc/shepherd/config.d",
}

// snippet is one YAML drop-in. All fields are optional; merging keeps the
// last value seen.
type snippet struct {
	Graph    *graphSnippet    `yaml:"graph"`
	Identity *identitySnippet `yaml:"identity"`
	Updates  *updatesSnippet  `yaml:"updates"`
	Agent    *agentSnippet    `yaml:"agent"`
}

type graphSnippet struct {
	BaseURL *string `yaml:"base_url"`
}

type identitySnippet struct {
	BaseArch         *string `yaml:"basearch"`
	Stream           *string `yaml:"stream"`
	Group            *string `yaml:"group"`
	NodeUUID         *string `yaml:"node_uuid"`
	WarinessPermille *uint16 `yaml:"rollout_wariness_permille"`
}

type updatesSnippet struct {
	Strategy      *string          `yaml:"strategy"`
	AllowBarriers *bool            `yaml:"allow_barriers"`
	Periodic      *periodicSnippet `yaml:"periodic"`
	Cluster       *clusterSnippet  `yaml:"cluster"`
}

type periodicSnippet struct {
	Weekday       *string `yaml:"weekday"`
	Start         *string `yaml:"start"`
	LengthMinutes *int    `yaml:"length_minutes"`
}

type clusterSnippet struct {
	BaseURL *string `yaml:"base_url"`
}

type agentSnippet struct {
	PollInterval  *string `yaml:"poll_interval"`
	StatePath     *string `yaml:"state_path"`
	ListenAddress *string `yaml:"listen_address"`
}

// Load reads and merges all drop-in snippets from the given directories.
// Missing directories are skipped; malformed snippets are configuration
// errors.
func Load(dirs []string) (*Config, error) {
	cfg := defaultConfig()

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read config directory %s", dir)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read config snippet %s", path)
			}
			var snip snippet
			if err := yaml.Unmarshal(raw, &snip); err != nil {
				return nil, errors.Wrapf(err, "malformed config snippet %s", path)
			}
			if err := cfg.apply(&snip); err != nil {
				return nil, errors.WithMessagef(err, "invalid config snippet %s", path)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(snip *snippet) error {
	if snip.Graph != nil && snip.Graph.BaseURL != nil {
		c.GraphBaseURL = *snip.Graph.BaseURL
	}

	if id := snip.Identity; id != nil {
		if id.BaseArch != nil {
			c.BaseArch = *id.BaseArch
		}
		if id.Stream != nil {
			c.Stream = *id.Stream
		}
		if id.Group != nil {
			c.Group = *id.Group
		}
		if id.NodeUUID != nil {
			c.NodeUUID = *id.NodeUUID
		}
		if id.WarinessPermille != nil {
			permille := *id.WarinessPermille
			c.WarinessPermille = &permille
		}
	}

	if up := snip.Updates; up != nil {
		if up.Strategy != nil {
			c.Strategy.Name = *up.Strategy
		}
		if up.AllowBarriers != nil {
			c.AllowBarriers = *up.AllowBarriers
		}
		if up.Periodic != nil {
			if err := c.applyPeriodic(up.Periodic); err != nil {
				return err
			}
		}
		if up.Cluster != nil && up.Cluster.BaseURL != nil {
			c.Strategy.LockBaseURL = *up.Cluster.BaseURL
		}
	}

	if ag := snip.Agent; ag != nil {
		if ag.PollInterval != nil {
			interval, err := time.ParseDuration(*ag.PollInterval)
			if err != nil {
				return errors.Wrap(err, "unable to parse poll interval")
			}
			c.PollInterval = interval
		}
		if ag.StatePath != nil {
			c.StatePath = *ag.StatePath
		}
		if ag.ListenAddress != nil {
			c.ListenAddress = *ag.ListenAddress
		}
	}
	return nil
}

func (c *Config) applyPeriodic(p *periodicSnippet) error {
	if p.Weekday != nil {
		weekday, err := parseWeekday(*p.Weekday)
		if err != nil {
			return err
		}
		c.Strategy.Periodic.Weekday = weekday
	}
	if p.Start != nil {
		start, err := parseClock(*p.Start)
		if err != nil {
			return err
		}
		c.Strategy.Periodic.Start = start
	}
	if p.LengthMinutes != nil {
		c.Strategy.Periodic.Length = time.Duration(*p.LengthMinutes) * time.Minute
	}
	return nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String(), name) {
			return day, nil
		}
	}
	return 0, errors.Errorf("unknown weekday %q", name)
}

// parseClock parses an "HH:MM" offset from midnight.
func parseClock(value string) (time.Duration, error) {
	var hour, min int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &min); err != nil {
		return 0, errors.Errorf("unable to parse window start %q", value)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, errors.Errorf("window start %q out of range", value)
	}
	return time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute, nil
}
