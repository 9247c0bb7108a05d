package core

// Logger is any leveled logger.
// Args may carry a Person (the user the log line is about) and maps of extra context.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the user a log entry relates to.
type Person struct {
	ID       string
	Username string
	Email    string
}
