package quic

import (
	"encoding/hex"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/goburrow/quic/transport"
)

type logLevel int

// Log levels
const (
	levelOff logLevel = iota
	levelError
	levelInfo
	levelDebug
	levelTrace
)

// logger routes per-connection qlog-style events through logrus fields
// instead of writing formatted lines to an io.Writer directly, the way the
// teacher's bespoke logger did.
type logger struct {
	level logLevel
	log   *logrus.Logger
}

func (s *logger) setWriter(w io.Writer) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	s.log = l
}

// attachLogger wires a connection's transport-level log events into logrus,
// tagged with its address and connection ID. Below levelDebug, or before a
// writer is set, events are dropped without even reaching OnLogEvent.
func (s *logger) attachLogger(c *remoteConn) {
	if s.level < levelDebug || s.log == nil {
		return
	}
	entry := s.log.WithFields(logrus.Fields{
		"addr": c.addr.String(),
		"cid":  hex.EncodeToString(c.scid),
	})
	c.conn.OnLogEvent(func(e transport.LogEvent) {
		logEvent(entry, e)
	})
}

func (s *logger) detachLogger(c *remoteConn) {
	c.conn.OnLogEvent(nil)
}

// logEvent forwards one transport.LogEvent as a logrus entry, flattening its
// Fields into logrus.Fields so a structured sink (JSON, etc.) can index them.
func logEvent(entry *logrus.Entry, e transport.LogEvent) {
	fields := make(logrus.Fields, len(e.Fields))
	for _, f := range e.Fields {
		if f.Str != "" {
			fields[f.Key] = f.Str
		} else {
			fields[f.Key] = f.Num
		}
	}
	entry.WithFields(fields).Debug(e.Type)
}
