package logging

import "reflect"

// EntryLoggerAdapter matches entry-style loggers such as *logrus.Entry,
// whose With* methods return their own concrete type.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger wraps an entry-style logger, for example
// logrus.NewEntry(logrus.StandardLogger()). It panics on a nil entry.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if isNil(entry) {
		panic("replybridge: entry logger cannot be nil")
	}
	return &entryServiceLogger[T]{entry: entry}
}

// isNil also catches typed nil pointers, which compare unequal to a nil
// interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

type entryServiceLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e *entryServiceLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryServiceLogger[T]{entry: e.withFields(fields)}
}

func (e *entryServiceLogger[T]) Debug(msg string, fields LogFields) {
	e.withFields(fields).Debug(msg)
}

func (e *entryServiceLogger[T]) Info(msg string, fields LogFields) {
	e.withFields(fields).Info(msg)
}

func (e *entryServiceLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := e.withFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (e *entryServiceLogger[T]) Trace(msg string, fields LogFields) {
	e.withFields(fields).Trace(msg)
}

func (e *entryServiceLogger[T]) withFields(fields LogFields) T {
	entry := e.entry
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	return entry
}
