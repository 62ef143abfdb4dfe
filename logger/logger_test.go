package logger

import (
	"testing"
)

type entry struct {
	level   LogLevel
	msg     string
	keyvals []interface{}
}

func capture(t *testing.T) *[]entry {
	t.Helper()
	var entries []entry
	SetLogger(func(level LogLevel, msg string, keyvals ...interface{}) {
		entries = append(entries, entry{level, msg, keyvals})
	})
	t.Cleanup(func() {
		SetLogger(func(level LogLevel, msg string, keyvals ...interface{}) {})
	})
	return &entries
}

func TestLevels(t *testing.T) {
	entries := capture(t)

	Debug("d", "k", 1)
	Info("i")
	Warn("w")
	Error("e", "err", "boom")

	want := []LogLevel{DebugLevel, InfoLevel, WarnLevel, ErrorLevel}
	if len(*entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(*entries), len(want))
	}
	for i, lvl := range want {
		if (*entries)[i].level != lvl {
			t.Errorf("entry %d level = %s, want %s", i, (*entries)[i].level, lvl)
		}
	}
	if (*entries)[0].msg != "d" || len((*entries)[0].keyvals) != 2 {
		t.Errorf("debug entry = %+v", (*entries)[0])
	}
	if (*entries)[3].keyvals[1] != "boom" {
		t.Errorf("error keyvals = %v", (*entries)[3].keyvals)
	}
}

func TestSetLoggerIgnoresNil(t *testing.T) {
	entries := capture(t)
	SetLogger(nil)
	Info("still logged")
	if len(*entries) != 1 {
		t.Errorf("entries = %d, want 1", len(*entries))
	}
}
