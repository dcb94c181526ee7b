package providers

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errStopSSE = errors.New("providers: stop sse")

// sseFrame is one dispatched server-sent event.
type sseFrame struct {
	Event string
	Data  []byte
}

// readSSE dispatches frames to onFrame until EOF, a [DONE] sentinel or
// onFrame returning errStopSSE.
func readSSE(reader io.Reader, onFrame func(sseFrame) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		event     string
		dataLines [][]byte
	)
	dispatch := func() error {
		name := event
		event = ""
		if len(dataLines) == 0 {
			return nil
		}
		payload := bytes.TrimSpace(bytes.Join(dataLines, []byte("\n")))
		dataLines = dataLines[:0]
		if len(payload) == 0 {
			return nil
		}
		if string(payload) == "[DONE]" {
			return errStopSSE
		}
		return onFrame(sseFrame{Event: name, Data: payload})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "":
			if err := dispatch(); err != nil {
				if errors.Is(err, errStopSSE) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			dataLines = append(dataLines, []byte(data))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("providers: sse scanner: %w", err)
	}
	if err := dispatch(); err != nil && !errors.Is(err, errStopSSE) {
		return err
	}
	return nil
}
