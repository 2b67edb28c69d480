package quic

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/draftquic/quic/transport"
)

type logLevel int

// Log levels, kept as the teacher's named scale rather than zap's own
// (DebugLevel/InfoLevel/...) so -v N on the CLI keeps its original meaning.
const (
	levelOff logLevel = iota
	levelError
	levelInfo
	levelDebug
	levelTrace
)

func (l logLevel) zapLevel() zapcore.Level {
	switch l {
	case levelError:
		return zapcore.ErrorLevel
	case levelInfo:
		return zapcore.InfoLevel
	case levelDebug, levelTrace:
		return zapcore.DebugLevel
	default:
		return zapcore.Level(99) // above Fatal: nothing logs
	}
}

// logger logs QUIC transactions through zap, addressed to an arbitrary
// io.Writer the way the teacher's SetLogger(level, w) did.
type logger struct {
	level logLevel
	mu    sync.Mutex
	zl    *zap.Logger
}

func newLogger(level logLevel, w io.Writer) *logger {
	if w == nil {
		w = io.Discard
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level.zapLevel())
	return &logger{level: level, zl: zap.New(core)}
}

func (s *logger) setWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s = *newLogger(s.level, w)
}

func (s *logger) log(level logLevel, format string, values ...interface{}) {
	if s.level < level {
		return
	}
	msg := fmt.Sprintf(format, values...)
	switch level {
	case levelError:
		s.zl.Error(msg)
	case levelInfo:
		s.zl.Info(msg)
	default:
		s.zl.Debug(msg)
	}
}

// attachLogger wires a connection's structured LogEvent stream into zap,
// grounded on the teacher's logger.attachLogger/transactionLogger pair.
func (s *logger) attachLogger(c *remoteConn) {
	if s.level < levelDebug {
		return
	}
	tl := transactionLogger{
		zl:     s.zl,
		fields: []zap.Field{zap.Stringer("addr", c.addr), zap.String("cid", fmt.Sprintf("%x", c.scid))},
	}
	c.conn.OnLogEvent(tl.logEvent)
}

func (s *logger) detachLogger(c *remoteConn) {
	c.conn.OnLogEvent(nil)
}

type transactionLogger struct {
	zl     *zap.Logger
	fields []zap.Field
}

func (s *transactionLogger) logEvent(e transport.LogEvent) {
	fields := make([]zap.Field, 0, len(s.fields)+len(e.Fields))
	fields = append(fields, s.fields...)
	for _, f := range e.Fields {
		fields = append(fields, logFieldToZap(f))
	}
	s.zl.Debug(e.Type, fields...)
}

func logFieldToZap(f transport.LogField) zap.Field {
	if f.Str != "" {
		return zap.String(f.Key, f.Str)
	}
	return zap.Uint64(f.Key, f.Num)
}
