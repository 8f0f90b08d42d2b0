package session

// Frame kinds.
const (
	FrameSignals  = "signals"
	FrameElements = "elements"
)

// Frame is one update pushed to the browser over SSE: either a signals
// patch or an HTML fragment for a selector.
type Frame struct {
	Kind     string
	Signals  map[string]any
	Selector string
	HTML     string
}

func signals(v map[string]any) Frame {
	return Frame{Kind: FrameSignals, Signals: v}
}

func elements(selector, html string) Frame {
	return Frame{Kind: FrameElements, Selector: selector, HTML: html}
}
