package backend

import (
	"bytes"
	"strings"
)

// chunkWriter is an io.Writer that captures everything written and forwards
// complete lines to a callback. The callback sees incremental toolchain
// output in real time; the buffer keeps the full transcript for diagnostics
// extraction after exit.
type chunkWriter struct {
	onOutput func(chunk string)
	buffer   bytes.Buffer
	partial  bytes.Buffer
}

func newChunkWriter(onOutput func(chunk string)) *chunkWriter {
	return &chunkWriter{onOutput: onOutput}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.buffer.Write(p)
	if w.onOutput == nil {
		return len(p), nil
	}
	w.partial.Write(p)
	for {
		line, err := w.partial.ReadString('\n')
		if err != nil {
			// No complete line yet, put it back.
			w.partial.WriteString(line)
			break
		}
		w.onOutput(strings.TrimSuffix(line, "\n"))
	}
	return len(p), nil
}

// String returns the full captured transcript.
func (w *chunkWriter) String() string {
	return w.buffer.String()
}
