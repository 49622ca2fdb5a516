package logging

import "go.uber.org/zap"

type Logger = zap.SugaredLogger

func New() *Logger {
	l, _ := zap.NewProduction()
	return l.Sugar()
}

// Named returns a child logger for a component.
func Named(l *Logger, name string) *Logger {
	return l.Named(name)
}

// Nop returns a logger that discards everything. Test helper.
func Nop() *Logger {
	return zap.NewNop().Sugar()
}
