// Package types defines shared data types used across the jsdap adapter.
//
// This package provides type definitions for:
//   - TargetKind: the kinds of CDP targets the adapter can attach to
//   - TargetStatus: per-target lifecycle states
//   - PauseOnExceptionsMode: the CDP-level exception pause setting
//   - UnmappedReason: why a location could not be source-mapped
//   - SourceDescriptor: protocol-neutral source identity
//
// These types are used throughout the codebase to maintain type safety
// and provide clear contracts between components.
package types

// TargetKind identifies what kind of CDP target a thread represents.
type TargetKind string

const (
	TargetKindPage           TargetKind = "page"
	TargetKindIFrame         TargetKind = "iframe"
	TargetKindWorker         TargetKind = "worker"
	TargetKindServiceWorker  TargetKind = "service_worker"
	TargetKindNode           TargetKind = "node"
	TargetKindBrowser        TargetKind = "browser"
	TargetKindSharedWorker   TargetKind = "shared_worker"
	TargetKindBackgroundPage TargetKind = "background_page"
)

// SupportsCustomBreakpoints reports whether DOM/event breakpoints make
// sense for this target kind. Only page-like targets have a DOM.
func (k TargetKind) SupportsCustomBreakpoints() bool {
	switch k {
	case TargetKindPage, TargetKindIFrame, TargetKindBackgroundPage:
		return true
	default:
		return false
	}
}

// CanAttach reports whether the target kind executes JavaScript the
// adapter should present as a thread.
func (k TargetKind) CanAttach() bool {
	return k != TargetKindBrowser
}

// TargetStatus represents the lifecycle state of a CDP target.
type TargetStatus string

const (
	TargetStatusDiscovered TargetStatus = "discovered"
	TargetStatusAttaching  TargetStatus = "attaching"
	TargetStatusAttached   TargetStatus = "attached"
	TargetStatusDetached   TargetStatus = "detached"
)

// PauseOnExceptionsMode is the CDP-level exception pause setting.
type PauseOnExceptionsMode string

const (
	PauseOnExceptionsNone     PauseOnExceptionsMode = "none"
	PauseOnExceptionsAll      PauseOnExceptionsMode = "all"
	PauseOnExceptionsUncaught PauseOnExceptionsMode = "uncaught"
)

// UnmappedReason explains why a UI location was not source-mapped.
type UnmappedReason int

const (
	// UnmappedNone means the location mapped (or nothing claimed a map).
	UnmappedNone UnmappedReason = iota
	// UnmappedMapDisabled means source maps were turned off for the source.
	UnmappedMapDisabled
	// UnmappedCannotMap means the map was missing, failed to load, or had
	// no mapping for the position.
	UnmappedCannotMap
)

// SourceDescriptor is the protocol-neutral identity of a source as
// exchanged with the DAP client. A non-zero SourceReference means the
// client must fetch content via the `source` request; zero means the
// Path is readable from disk directly.
type SourceDescriptor struct {
	Name             string `json:"name,omitempty"`
	Path             string `json:"path,omitempty"`
	SourceReference  int    `json:"sourceReference,omitempty"`
	PresentationHint string `json:"presentationHint,omitempty"`
	Origin           string `json:"origin,omitempty"`
}

// BreakpointStatistics aggregates breakpoint counts for telemetry.
// Tracking them never changes behavior.
type BreakpointStatistics struct {
	Set      int `json:"set"`
	Verified int `json:"verified"`
	Bound    int `json:"bound"`
}
