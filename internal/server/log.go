package server

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var logMutex sync.Mutex

func logLine(line string) {
	tm := time.Now()
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), line)
}

func logWarning(line string) {
	logLine("[WARNING] " + line)
}

func logInfo(line string) {
	logLine("[INFO] " + line)
}

func logError(err error) {
	logLine("[ERROR] " + err.Error())
}

var logRequestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

func logRequest(sessionID uint64, ip string, line string) {
	if logRequestsEnabled {
		logLine("[REQUEST] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + line)
	}
}

var logDebugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func logDebug(line string) {
	if logDebugEnabled {
		logLine("[DEBUG] " + line)
	}
}

func logDebugSession(sessionID uint64, ip string, line string) {
	if logDebugEnabled {
		logLine("[DEBUG] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + line)
	}
}
