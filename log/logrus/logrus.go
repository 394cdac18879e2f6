package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/memocache"
)

var _ memocache.Logger = Logger{}

// Logger writes through E. An "err" field holding an error goes to logrus.ErrorKey.
type Logger struct{ E *logrus.Entry }

// New tags every entry with component=memocache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "memocache")}
}

func (l Logger) Debug(msg string, f memocache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f memocache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f memocache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f memocache.Fields) { l.entry(f).Error(msg) }

func (l Logger) entry(f memocache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
