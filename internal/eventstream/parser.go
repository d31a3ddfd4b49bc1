// Package eventstream parses the line-delimited pairing event stream.
//
// The stream uses SSE-style framing: an "event: <name>" line sets the pending
// event kind and the following "data: <payload>" line dispatches it. Chunk
// boundaries carry no meaning; a partial trailing line is buffered until the
// next chunk completes it.
package eventstream

import (
	"bytes"
	"strings"

	"github.com/yourclaw/clawlink/internal/models"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Parser accumulates stream chunks and emits complete pairing events.
// The zero value is ready to use. Parser is not safe for concurrent use;
// each stream gets its own instance.
type Parser struct {
	carry   []byte
	pending string
}

// Feed consumes one chunk and returns the events completed by it, in arrival
// order. Event kinds other than qr, connected, and error are skipped.
func (p *Parser) Feed(chunk []byte) []models.PairingEvent {
	p.carry = append(p.carry, chunk...)

	var events []models.PairingEvent
	for {
		idx := bytes.IndexByte(p.carry, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(p.carry[:idx]), "\r")
		p.carry = p.carry[idx+1:]

		switch {
		case strings.HasPrefix(line, eventPrefix):
			p.pending = strings.TrimSpace(line[len(eventPrefix):])
		case strings.HasPrefix(line, dataPrefix):
			kind := p.pending
			p.pending = ""
			data := strings.TrimPrefix(line[len(dataPrefix):], " ")
			switch models.EventKind(kind) {
			case models.EventQR:
				events = append(events, models.PairingEvent{Kind: models.EventQR, Data: data})
			case models.EventConnected:
				events = append(events, models.PairingEvent{Kind: models.EventConnected, Data: data})
			case models.EventError:
				events = append(events, models.PairingEvent{Kind: models.EventError, Data: data})
			}
			// data lines without a preceding event line, and data for
			// unknown event kinds, are ignored.
		}
	}
	return events
}

// Reset discards any buffered partial line and pending event kind.
func (p *Parser) Reset() {
	p.carry = nil
	p.pending = ""
}
