// Package apex adapts github.com/apex/log to memocache.Logger.
package apex

import (
	"github.com/apex/log"

	"github.com/unkn0wn-root/memocache"
)

var _ memocache.Logger = Logger{}

type Logger struct{ L log.Interface }

func (a Logger) Debug(msg string, f memocache.Fields) { a.L.WithFields(log.Fields(f)).Debug(msg) }
func (a Logger) Info(msg string, f memocache.Fields)  { a.L.WithFields(log.Fields(f)).Info(msg) }
func (a Logger) Warn(msg string, f memocache.Fields)  { a.L.WithFields(log.Fields(f)).Warn(msg) }
func (a Logger) Error(msg string, f memocache.Fields) { a.L.WithFields(log.Fields(f)).Error(msg) }
