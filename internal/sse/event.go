// Package sse delivers server-sent event frames to a client with
// backpressure handling and bounded retries.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one output frame before encoding.
type Event struct {
	Name    string
	Payload any
}

// Encode renders ev in wire form: "event: <name>\ndata: <json>\n\n".
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", ev.Name, err)
	}

	var buf bytes.Buffer
	buf.Grow(len("event: \ndata: \n\n") + len(ev.Name) + len(data))
	buf.WriteString("event: ")
	buf.WriteString(ev.Name)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
