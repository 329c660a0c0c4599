package cdp

import "encoding/json"

// Location is a 0-based position inside a script.
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// RemoteObject mirrors Runtime.RemoteObject.
type RemoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

// PropertyDescriptor mirrors Runtime.PropertyDescriptor.
type PropertyDescriptor struct {
	Name       string        `json:"name"`
	Value      *RemoteObject `json:"value,omitempty"`
	Writable   bool          `json:"writable,omitempty"`
	Enumerable bool          `json:"enumerable"`
	Get        *RemoteObject `json:"get,omitempty"`
	Set        *RemoteObject `json:"set,omitempty"`
}

// ExceptionDetails mirrors Runtime.ExceptionDetails.
type ExceptionDetails struct {
	ExceptionID  int           `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	ScriptID     string        `json:"scriptId,omitempty"`
	URL          string        `json:"url,omitempty"`
	Exception    *RemoteObject `json:"exception,omitempty"`
	StackTrace   *StackTrace   `json:"stackTrace,omitempty"`
}

// StackTrace mirrors Runtime.StackTrace.
type StackTrace struct {
	Description string         `json:"description,omitempty"`
	CallFrames  []RuntimeFrame `json:"callFrames"`
	Parent      *StackTrace    `json:"parent,omitempty"`
	ParentID    *StackTraceID  `json:"parentId,omitempty"`
}

// StackTraceID mirrors Runtime.StackTraceId.
type StackTraceID struct {
	ID         string `json:"id"`
	DebuggerID string `json:"debuggerId,omitempty"`
}

// RuntimeFrame mirrors Runtime.CallFrame (the lightweight async variant).
type RuntimeFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// Scope mirrors Debugger.Scope.
type Scope struct {
	Type          string       `json:"type"`
	Object        RemoteObject `json:"object"`
	Name          string       `json:"name,omitempty"`
	StartLocation *Location    `json:"startLocation,omitempty"`
	EndLocation   *Location    `json:"endLocation,omitempty"`
}

// DebuggerFrame mirrors Debugger.CallFrame (the paused-state variant).
type DebuggerFrame struct {
	CallFrameID      string        `json:"callFrameId"`
	FunctionName     string        `json:"functionName"`
	FunctionLocation *Location     `json:"functionLocation,omitempty"`
	Location         Location      `json:"location"`
	URL              string        `json:"url"`
	ScopeChain       []Scope       `json:"scopeChain"`
	This             RemoteObject  `json:"this"`
	ReturnValue      *RemoteObject `json:"returnValue,omitempty"`
}

// PausedEvent mirrors Debugger.paused.
type PausedEvent struct {
	CallFrames        []DebuggerFrame `json:"callFrames"`
	Reason            string          `json:"reason"`
	Data              json.RawMessage `json:"data,omitempty"`
	HitBreakpoints    []string        `json:"hitBreakpoints,omitempty"`
	AsyncStackTrace   *StackTrace     `json:"asyncStackTrace,omitempty"`
	AsyncStackTraceID *StackTraceID   `json:"asyncStackTraceId,omitempty"`
}

// ScriptParsedEvent mirrors Debugger.scriptParsed.
type ScriptParsedEvent struct {
	ScriptID                string          `json:"scriptId"`
	URL                     string          `json:"url"`
	StartLine               int             `json:"startLine"`
	StartColumn             int             `json:"startColumn"`
	EndLine                 int             `json:"endLine"`
	EndColumn               int             `json:"endColumn"`
	ExecutionContextID      int             `json:"executionContextId"`
	Hash                    string          `json:"hash"`
	SourceMapURL            string          `json:"sourceMapURL,omitempty"`
	HasSourceURL            bool            `json:"hasSourceURL,omitempty"`
	IsModule                bool            `json:"isModule,omitempty"`
	Length                  int             `json:"length,omitempty"`
	EmbedderName            string          `json:"embedderName,omitempty"`
	ExecutionContextAuxData json.RawMessage `json:"executionContextAuxData,omitempty"`
}

// BreakpointResolvedEvent mirrors Debugger.breakpointResolved.
type BreakpointResolvedEvent struct {
	BreakpointID string   `json:"breakpointId"`
	Location     Location `json:"location"`
}

// ExecutionContextDescription mirrors Runtime.ExecutionContextDescription.
type ExecutionContextDescription struct {
	ID      int             `json:"id"`
	Origin  string          `json:"origin"`
	Name    string          `json:"name"`
	AuxData json.RawMessage `json:"auxData,omitempty"`
}

// ExecutionContextCreatedEvent mirrors Runtime.executionContextCreated.
type ExecutionContextCreatedEvent struct {
	Context ExecutionContextDescription `json:"context"`
}

// ExecutionContextDestroyedEvent mirrors Runtime.executionContextDestroyed.
type ExecutionContextDestroyedEvent struct {
	ExecutionContextID int `json:"executionContextId"`
}

// TargetInfo mirrors Target.TargetInfo.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	OpenerID         string `json:"openerId,omitempty"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// AttachedToTargetEvent mirrors Target.attachedToTarget.
type AttachedToTargetEvent struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

// DetachedFromTargetEvent mirrors Target.detachedFromTarget.
type DetachedFromTargetEvent struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// Frame mirrors Page.Frame.
type Frame struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
}

// FrameTree mirrors Page.FrameTree.
type FrameTree struct {
	Frame       Frame       `json:"frame"`
	ChildFrames []FrameTree `json:"childFrames,omitempty"`
}

// --- Command parameter/result payloads ---

// SetBreakpointByURLParams mirrors Debugger.setBreakpointByUrl parameters.
type SetBreakpointByURLParams struct {
	LineNumber   int    `json:"lineNumber"`
	URL          string `json:"url,omitempty"`
	URLRegex     string `json:"urlRegex,omitempty"`
	ScriptHash   string `json:"scriptHash,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

// SetBreakpointByURLResult mirrors Debugger.setBreakpointByUrl results.
type SetBreakpointByURLResult struct {
	BreakpointID string     `json:"breakpointId"`
	Locations    []Location `json:"locations"`
}

// EvaluateParams mirrors Runtime.evaluate parameters.
type EvaluateParams struct {
	Expression            string `json:"expression"`
	ObjectGroup           string `json:"objectGroup,omitempty"`
	IncludeCommandLineAPI bool   `json:"includeCommandLineAPI,omitempty"`
	Silent                bool   `json:"silent,omitempty"`
	ContextID             int    `json:"contextId,omitempty"`
	ReturnByValue         bool   `json:"returnByValue,omitempty"`
	ThrowOnSideEffect     bool   `json:"throwOnSideEffect,omitempty"`
	Timeout               int    `json:"timeout,omitempty"`
}

// EvaluateResult mirrors Runtime.evaluate results.
type EvaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

// EvaluateOnCallFrameParams mirrors Debugger.evaluateOnCallFrame parameters.
type EvaluateOnCallFrameParams struct {
	CallFrameID           string `json:"callFrameId"`
	Expression            string `json:"expression"`
	ObjectGroup           string `json:"objectGroup,omitempty"`
	IncludeCommandLineAPI bool   `json:"includeCommandLineAPI,omitempty"`
	Silent                bool   `json:"silent,omitempty"`
	ReturnByValue         bool   `json:"returnByValue,omitempty"`
}

// CallFunctionOnParams mirrors Runtime.callFunctionOn parameters.
type CallFunctionOnParams struct {
	FunctionDeclaration string         `json:"functionDeclaration"`
	ObjectID            string         `json:"objectId,omitempty"`
	Arguments           []CallArgument `json:"arguments,omitempty"`
	Silent              bool           `json:"silent,omitempty"`
	ReturnByValue       bool           `json:"returnByValue,omitempty"`
}

// CallArgument mirrors Runtime.CallArgument.
type CallArgument struct {
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

// GetPropertiesParams mirrors Runtime.getProperties parameters.
type GetPropertiesParams struct {
	ObjectID               string `json:"objectId"`
	OwnProperties          bool   `json:"ownProperties,omitempty"`
	AccessorPropertiesOnly bool   `json:"accessorPropertiesOnly,omitempty"`
	GeneratePreview        bool   `json:"generatePreview,omitempty"`
}

// GetPropertiesResult mirrors Runtime.getProperties results.
type GetPropertiesResult struct {
	Result           []PropertyDescriptor `json:"result"`
	ExceptionDetails *ExceptionDetails    `json:"exceptionDetails,omitempty"`
}

// GetPossibleBreakpointsParams mirrors Debugger.getPossibleBreakpoints parameters.
type GetPossibleBreakpointsParams struct {
	Start              Location  `json:"start"`
	End                *Location `json:"end,omitempty"`
	RestrictToFunction bool      `json:"restrictToFunction,omitempty"`
}

// BreakLocation mirrors Debugger.BreakLocation.
type BreakLocation struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
	Type         string `json:"type,omitempty"`
}

// GetPossibleBreakpointsResult mirrors Debugger.getPossibleBreakpoints results.
type GetPossibleBreakpointsResult struct {
	Locations []BreakLocation `json:"locations"`
}
