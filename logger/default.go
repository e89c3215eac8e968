package logger

var defLogger = NewSlog(InfoLevel)

// GetLogger returns the process-wide default logger used when no logger is configured.
func GetLogger() Logger {
	return defLogger
}

// SetLogger replaces the process-wide default logger.
// Call it before constructing driver components; they capture the logger at build time.
func SetLogger(l Logger) {
	if l != nil {
		defLogger = l
	}
}
