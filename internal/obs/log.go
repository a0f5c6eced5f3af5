package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON line logger. Output goes to stdout so
// log collectors pick it up without extra wiring.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest writes one JSON object per line. Fields come from the HTTP
// logging middleware; a marshal failure falls back to a fixed error line.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
