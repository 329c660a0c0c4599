package adapter

import (
	"encoding/json"

	"github.com/google/go-dap"

	"github.com/jsdap/jsdap/pkg/types"
)

// Custom extension commands served beyond the standard DAP surface.
const (
	commandToggleSkipFileStatus     = "toggleSkipFileStatus"
	commandCanPrettyPrintSource     = "canPrettyPrintSource"
	commandPrettyPrintSource        = "prettyPrintSource"
	commandEnableCustomBreakpoints  = "enableCustomBreakpoints"
	commandDisableCustomBreakpoints = "disableCustomBreakpoints"
)

var customCommands = map[string]bool{
	commandToggleSkipFileStatus:     true,
	commandCanPrettyPrintSource:     true,
	commandPrettyPrintSource:        true,
	commandEnableCustomBreakpoints:  true,
	commandDisableCustomBreakpoints: true,
}

// CustomRequest is a request whose command is one of the extension
// commands, kept as raw arguments until its handler decodes them.
type CustomRequest struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// customResponse is a response carrying an extension-specific body.
type customResponse struct {
	dap.Response
	Body interface{} `json:"body,omitempty"`
}

// toggleSkipFileArgs addresses the source whose skip status flips.
type toggleSkipFileArgs struct {
	Resource        string `json:"resource"`
	SourceReference int    `json:"sourceReference"`
}

type toggleSkipFileBody struct {
	Skipped bool `json:"skipped"`
}

// prettyPrintArgs addresses the minified source to format.
type prettyPrintArgs struct {
	Source types.SourceDescriptor `json:"source"`
	Line   int                    `json:"line"`
	Column int                    `json:"column"`
}

type canPrettyPrintBody struct {
	CanPrettyPrint bool `json:"canPrettyPrint"`
}

type prettyPrintBody struct {
	Source types.SourceDescriptor `json:"source"`
}

// customBreakpointArgs names DOM/event instrumentation breakpoints by
// id: "instrumentation:<event>" or "listener:<event>".
type customBreakpointArgs struct {
	IDs []string `json:"ids"`
}
