package adapter

import (
	"context"
	"encoding/json"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/internal/targets"
)

// HandleCustom routes one extension request. These commands sit outside
// the typed DAP surface, so arguments stay raw JSON until here.
func (s *Session) HandleCustom(ctx context.Context, req *CustomRequest) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("custom handler panicked",
				zap.String("command", req.Command), zap.Any("panic", p))
		}
	}()

	switch req.Command {
	case commandToggleSkipFileStatus:
		s.onToggleSkipFileStatus(ctx, req)
	case commandCanPrettyPrintSource:
		s.onCanPrettyPrintSource(ctx, req)
	case commandPrettyPrintSource:
		s.onPrettyPrintSource(ctx, req)
	case commandEnableCustomBreakpoints:
		s.onSetCustomBreakpoints(ctx, req, true)
	case commandDisableCustomBreakpoints:
		s.onSetCustomBreakpoints(ctx, req, false)
	default:
		s.customError(req, jsdaperr.InvalidParameter("command", req.Command, "a supported request"))
	}
}

func (s *Session) customOK(req *CustomRequest, body interface{}) {
	resp := &customResponse{Body: body}
	resp.Response = dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.tr.NextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
	}
	s.send(resp)
}

func (s *Session) customError(req *CustomRequest, err error) {
	r := &dap.Request{Command: req.Command}
	r.Seq = req.Seq
	s.sendErrorResponse(r, err)
}

func (s *Session) onToggleSkipFileStatus(ctx context.Context, req *CustomRequest) {
	var args toggleSkipFileArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.customError(req, jsdaperr.InvalidParameter("arguments", string(req.Arguments), "a resource or source reference"))
		return
	}

	url := args.Resource
	if src := s.lookupSource(args.SourceReference, args.Resource); src != nil {
		url = src.URL()
	}
	if url == "" {
		s.customError(req, jsdaperr.MissingParameter("resource", "the script URL or path to toggle"))
		return
	}

	skipped := s.skip.Toggle(url)

	// Re-push blackboxing so future parses of this script honor the
	// toggle; already-parsed scripts are caught at pause time.
	patterns := s.skip.Patterns()
	for _, t := range s.liveThreads() {
		if err := t.Session().SetBlackboxPatterns(ctx, patterns); err != nil {
			s.logger.Debug("blackbox update failed",
				zap.Int("threadId", t.ID()), zap.Error(err))
		}
	}

	s.customOK(req, toggleSkipFileBody{Skipped: skipped})
}

func (s *Session) onCanPrettyPrintSource(ctx context.Context, req *CustomRequest) {
	var args prettyPrintArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.customError(req, jsdaperr.InvalidParameter("arguments", string(req.Arguments), "a source descriptor"))
		return
	}
	src := s.lookupSource(args.Source.SourceReference, args.Source.Path)
	can := src != nil && s.registry.CanPrettyPrint(ctx, src)
	s.customOK(req, canPrettyPrintBody{CanPrettyPrint: can})
}

func (s *Session) onPrettyPrintSource(ctx context.Context, req *CustomRequest) {
	var args prettyPrintArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.customError(req, jsdaperr.InvalidParameter("arguments", string(req.Arguments), "a source descriptor"))
		return
	}
	src := s.lookupSource(args.Source.SourceReference, args.Source.Path)
	if src == nil {
		s.customError(req, jsdaperr.SourceNotFound(args.Source.SourceReference, args.Source.Path))
		return
	}
	res, err := s.registry.PrettyPrint(ctx, src)
	if err != nil {
		s.customError(req, err)
		return
	}

	desc := res.Source.Descriptor()
	s.sendLoadedSource("new", desc)
	s.customOK(req, prettyPrintBody{Source: desc})
}

func (s *Session) onSetCustomBreakpoints(ctx context.Context, req *CustomRequest, enable bool) {
	var args customBreakpointArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		s.customError(req, jsdaperr.InvalidParameter("arguments", string(req.Arguments), "a list of breakpoint ids"))
		return
	}

	s.mu.Lock()
	for _, id := range args.IDs {
		s.customBps[id] = enable
	}
	s.mu.Unlock()

	for _, t := range s.liveThreads() {
		if !t.Kind().SupportsCustomBreakpoints() {
			continue
		}
		for _, id := range args.IDs {
			s.applyCustomBreakpoint(ctx, t.Session(), id, enable)
		}
	}
	s.customOK(req, nil)
}

func (s *Session) liveThreads() []*targets.Thread {
	s.mu.Lock()
	mgr := s.targets
	s.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Threads()
}
