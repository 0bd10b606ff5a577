package core

// Logger is the app-wide structured logger.
// Args may mix errors, maps of extra fields and the acting user; implementations pick what they understand.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
