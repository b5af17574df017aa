// Package controls holds the state of the viewer's control panel. Each group of buttons is a
// small state machine, and Apply derives the whole panel from the state in one place.
package controls

import (
	"github.com/pkg/errors"
)

// Button identifies a control panel button.
type Button string

// Panel buttons, in display order.
const (
	Stream    = Button("stream")
	StartScan = Button("start_scan")
	ShowScan  = Button("show_scan")
	Measure   = Button("measure")
	Export    = Button("export")
	Calibrate = Button("calibrate")
)

// Buttons lists every button in display order.
var Buttons = []Button{Stream, StartScan, ShowScan, Measure, Export, Calibrate}

var startText = map[Button]string{
	Stream:    "Start streaming camera view",
	Export:    "Export ply scan",
	Measure:   "Measure distance",
	ShowScan:  "Show ply scan",
	Calibrate: "Calibrate camera",
	StartScan: "Start scan",
}

var stopText = map[Button]string{
	Stream:    "Stop streaming camera view",
	Export:    "Export ply scan",
	Measure:   "Stop measuring",
	ShowScan:  "Hide ply scan",
	Calibrate: "Calibrate camera",
	StartScan: "Finish scan",
}

var (
	// ErrUnknownButton is returned for buttons that are not on the panel.
	ErrUnknownButton = errors.New("unknown button")
	// ErrHidden is returned when a hidden button is clicked.
	ErrHidden = errors.New("button is not visible")
)

// StreamMode is the state of the stream and scan buttons.
type StreamMode int

// Stream modes.
const (
	NotStreaming StreamMode = iota
	Streaming
	Scanning
)

// State is the state of every button group.
type State struct {
	Stream      StreamMode
	ShowingScan bool
	Measuring   bool
}

// ButtonView is how one button is drawn.
type ButtonView struct {
	Visible bool
	Text    string
}

// Layout is the derived look of the whole panel.
type Layout map[Button]ButtonView

func text(b Button, active bool) string {
	if active {
		return stopText[b]
	}
	return startText[b]
}

// Apply derives visibility and text of every button from the state.
func Apply(s State) Layout {
	streaming := s.Stream != NotStreaming
	return Layout{
		Stream:    {Visible: !s.ShowingScan, Text: text(Stream, streaming)},
		StartScan: {Visible: streaming, Text: text(StartScan, s.Stream == Scanning)},
		ShowScan:  {Visible: !streaming, Text: text(ShowScan, s.ShowingScan)},
		Measure:   {Visible: true, Text: text(Measure, s.Measuring)},
		Export:    {Visible: true, Text: text(Export, false)},
		Calibrate: {Visible: true, Text: text(Calibrate, false)},
	}
}

// Click returns the state after the button was clicked.
func Click(s State, b Button) (State, error) {
	view, ok := Apply(s)[b]
	if !ok {
		return s, errors.Wrap(ErrUnknownButton, string(b))
	}
	if !view.Visible {
		return s, errors.Wrap(ErrHidden, string(b))
	}
	switch b {
	case Stream:
		if s.Stream == NotStreaming {
			s.Stream = Streaming
		} else {
			s.Stream = NotStreaming
		}
	case StartScan:
		if s.Stream == Scanning {
			s.Stream = Streaming
		} else {
			s.Stream = Scanning
		}
	case ShowScan:
		s.ShowingScan = !s.ShowingScan
	case Measure:
		s.Measuring = !s.Measuring
	case Export, Calibrate:
	}
	return s, nil
}
