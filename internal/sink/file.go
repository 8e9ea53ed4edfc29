package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileFormat selects how FileSink renders a payload.
type FileFormat string

const (
	FileFormatJSON FileFormat = "json"
	FileFormatText FileFormat = "text"
)

// FileSink appends every payload to a local file, one line per send, with
// owner-only permissions on the file.
type FileSink struct {
	path   string
	format FileFormat
	log    zerolog.Logger
}

// NewFileSink creates a file sink writing to path in the given format.
// format defaults to json when empty.
func NewFileSink(path string, format FileFormat, log zerolog.Logger) *FileSink {
	if format == "" {
		format = FileFormatJSON
	}
	return &FileSink{path: os.ExpandEnv(path), format: format, log: log}
}

// Send appends one rendered line to the sink's file. Failures are logged
// and swallowed — sinks never raise.
func (f *FileSink) Send(payload Payload) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		f.log.Error().Err(err).Str("path", f.path).Msg("failed to create file sink directory")
		return
	}

	fd, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		f.log.Error().Err(err).Str("path", f.path).Msg("failed to open file sink")
		return
	}
	defer fd.Close()

	var line string
	if f.format == FileFormatText {
		status := "OK"
		if !payload.Success {
			status = fmt.Sprintf("ERROR: %s", payload.Error)
		}
		line = fmt.Sprintf("[%s] %s | %s | %s\n", payload.Timestamp, payload.AgentName, status, payload.Output)
	} else {
		data, err := json.Marshal(payload.ToMap())
		if err != nil {
			f.log.Error().Err(err).Msg("failed to marshal payload for file sink")
			return
		}
		line = string(data) + "\n"
	}

	if _, err := fd.WriteString(line); err != nil {
		f.log.Error().Err(err).Str("path", f.path).Msg("failed to write to file sink")
	}
}
