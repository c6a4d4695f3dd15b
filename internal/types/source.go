// Package types holds Nitrogen's wire-independent data model: capture
// sources, frames, audio buffers, encoded packets, session info, the
// pipeline state machine and its statistics.
package types

// SourceKind tags a capture source as a monitor or a window.
type SourceKind int

const (
	SourceMonitor SourceKind = iota
	SourceWindow
)

// PortalSentinel is the capture-source id meaning "ask the portal to
// let the user pick".
const PortalSentinel = "portal"

// CaptureSource names what to capture. ID is compositor-opaque and is
// never parsed by Nitrogen beyond comparing it to PortalSentinel.
type CaptureSource struct {
	Kind SourceKind
	ID   string
}

func (s CaptureSource) IsPortalPick() bool {
	return s.ID == "" || s.ID == PortalSentinel
}

// CursorMode controls how the pointer is represented in captured
// frames.
type CursorMode int

const (
	CursorHidden CursorMode = iota
	CursorEmbedded
	CursorMetadata
)

// SelectionKind is the portal SelectSources request's "types" bitmask
// target: Monitor, Window, or Both.
type SelectionKind int

const (
	SelectMonitor SelectionKind = iota
	SelectWindow
	SelectBoth
)
