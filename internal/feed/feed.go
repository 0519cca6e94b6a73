// Package feed carries console output from running commands to live
// observers. A single Queue is created at start-up and shared by every
// producer (the command runner and the operations) and every reader (the
// SSE and WebSocket endpoints).
package feed

// Stream identifies where a line came from.
type Stream string

const (
	// Stdout is a line read from a command's standard output.
	Stdout Stream = "stdout"
	// Stderr is a line read from a command's standard error.
	Stderr Stream = "stderr"
	// Status is a progress or diagnostic line written by steward itself.
	Status Stream = "status"
)

// Line is one unit of console output. Text never contains a trailing newline.
type Line struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Publisher accepts lines for delivery to observers. Implementations must
// not block the caller on slow or absent readers.
type Publisher interface {
	Publish(line Line)
}

// Drainer is the reader side of a Queue.
type Drainer interface {
	TryDrain() (Line, bool)
}

// Discard is a Publisher that drops every line.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Line) {}

// Multi returns a Publisher that forwards each line to every non-nil publisher in order.
func Multi(pubs ...Publisher) Publisher {
	var out multi
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multi []Publisher

func (m multi) Publish(line Line) {
	for _, p := range m {
		p.Publish(line)
	}
}

// Statusf is shorthand for publishing a Status line.
func Statusf(p Publisher, text string) {
	if p == nil {
		return
	}
	p.Publish(Line{Stream: Status, Text: text})
}
