package logger

import (
	"fmt"
	"log"
	"os"
)

var (
	// Debug flag to control debug logging
	debugEnabled = false
	// The logger instances
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
)

// Init initializes the logger
func Init(debug bool) {
	debugEnabled = debug

	debugLogger = log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	infoLogger = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime)
	warnLogger = log.New(os.Stdout, "WARN: ", log.Ldate|log.Ltime)
	errorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	if debugEnabled {
		Debug("Debug logging enabled")
	}
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) {
	if debugEnabled {
		debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	infoLogger.Output(2, fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	warnLogger.Output(2, fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	errorLogger.Output(2, fmt.Sprintf(format, v...))
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// Component-prefixed helpers so log lines can be grepped per subsystem.

// IngestDebug logs a debug message for the batch ingestion engine
func IngestDebug(format string, v ...interface{}) {
	Debug("[ingest] "+format, v...)
}

// IngestInfo logs an info message for the batch ingestion engine
func IngestInfo(format string, v ...interface{}) {
	Info("[ingest] "+format, v...)
}

// IngestWarn logs a warning for the batch ingestion engine
func IngestWarn(format string, v ...interface{}) {
	Warn("[ingest] "+format, v...)
}

// IngestError logs an error for the batch ingestion engine
func IngestError(format string, v ...interface{}) {
	Error("[ingest] "+format, v...)
}

// SearchDebug logs a debug message for the similarity search engine
func SearchDebug(format string, v ...interface{}) {
	Debug("[search] "+format, v...)
}

// SearchInfo logs an info message for the similarity search engine
func SearchInfo(format string, v ...interface{}) {
	Info("[search] "+format, v...)
}

// SearchWarn logs a warning for the similarity search engine
func SearchWarn(format string, v ...interface{}) {
	Warn("[search] "+format, v...)
}

// InRiverDebug logs a debug message for the inRiver catalog adapter
func InRiverDebug(format string, v ...interface{}) {
	Debug("[inriver] "+format, v...)
}

// InRiverWarn logs a warning for the inRiver catalog adapter
func InRiverWarn(format string, v ...interface{}) {
	Warn("[inriver] "+format, v...)
}

// VertexDebug logs a debug message for the Vertex AI clients
func VertexDebug(format string, v ...interface{}) {
	Debug("[vertex] "+format, v...)
}

// VertexWarn logs a warning for the Vertex AI clients
func VertexWarn(format string, v ...interface{}) {
	Warn("[vertex] "+format, v...)
}
