package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pdforge/pdforge/config"
	"github.com/pdforge/pdforge/logger"
)

// logOutput receives log lines; tests swap it for a buffer.
var logOutput io.Writer = os.Stderr

// installLogger points the module's logging seam at logOutput, honoring
// the configured minimum level and line format.
func installLogger(cfg config.LoggingConfig) {
	min := levelRank(cfg.Level)
	jsonLines := cfg.Format == "json"
	logger.SetLogger(func(level logger.LogLevel, msg string, keyvals ...interface{}) {
		if levelRank(string(level)) < min {
			return
		}
		if jsonLines {
			writeJSONLine(logOutput, level, msg, keyvals)
			return
		}
		writeTextLine(logOutput, level, msg, keyvals)
	})
}

// levelRank orders levels for the threshold comparison. Unknown names rank
// as info.
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

func writeTextLine(w io.Writer, level logger.LogLevel, msg string, keyvals []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", time.Now().Format("15:04:05"), strings.ToUpper(string(level)), msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	fmt.Fprintln(w, b.String())
}

func writeJSONLine(w io.Writer, level logger.LogLevel, msg string, keyvals []interface{}) {
	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": string(level),
		"msg":   msg,
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		entry[key] = fmt.Sprint(keyvals[i+1])
	}
	_ = json.NewEncoder(w).Encode(entry)
}
