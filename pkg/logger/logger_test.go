package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	zl := zerolog.New(buf)
	return &Logger{&zl}
}

func TestLogImportResult(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"added", nil, `"level":"info"`},
		{"failed", errors.New("stat insert failed"), `"level":"warn"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newBufferLogger(&buf).LogImportResult(4895100, tt.name, 120*time.Millisecond, tt.err)

			line := buf.String()
			if n := strings.Count(line, `"match_id"`); n != 1 {
				t.Errorf("Expected match_id once, found %d times in %s", n, line)
			}
			if !strings.Contains(line, tt.level) {
				t.Errorf("Expected %s in %s", tt.level, line)
			}
			if !strings.Contains(line, `"action":"match_imported"`) {
				t.Errorf("Expected match_imported action in %s", line)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	ctx := l.ToContext(context.Background())
	if got := WithContext(ctx, "importer"); got != l {
		t.Error("Expected the logger stored in the context")
	}
}
