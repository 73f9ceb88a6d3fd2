package logging

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// journalHook forwards entries to the systemd journal when the agent runs as
// a unit, keeping the text formatter on stderr for interactive runs.
type journalHook struct{}

// Journal installs the journal hook if a journal socket is present.
func Journal() Setter {
	return func(r *logrus.Logger) error {
		if !journal.Enabled() {
			return nil
		}
		r.AddHook(&journalHook{})
		return nil
	}
}

func (h *journalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *journalHook) Fire(entry *logrus.Entry) error {
	vars := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		vars[journalFieldName(k)] = stringify(v)
	}
	return journal.Send(entry.Message, journalPriority(entry.Level), vars)
}

func journalPriority(level logrus.Level) journal.Priority {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return journal.PriCrit
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalFieldName maps a logrus field to a journal variable name. The
// journal requires uppercase names limited to [A-Z0-9_] not starting with an
// underscore.
func journalFieldName(name string) string {
	mapped := make([]byte, 0, len(name)+len("SHEPHERD_"))
	mapped = append(mapped, "SHEPHERD_"...)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			mapped = append(mapped, c-('a'-'A'))
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			mapped = append(mapped, c)
		default:
			mapped = append(mapped, '_')
		}
	}
	return string(mapped)
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case error:
		return s.Error()
	default:
		return fmt.Sprint(v)
	}
}
