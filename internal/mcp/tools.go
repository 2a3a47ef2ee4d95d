package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/export"
	"github.com/rodcar/agentic-software-factory/internal/logging"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerSendMessage()
	s.registerGetDocument()
	s.registerExportTestPlan()
	s.registerSessionStatus()
}

// instrument wraps a tool body with active-request and invocation
// metrics.
func (s *Server) instrument(ctx context.Context, tool string, fn func() error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	err := fn()
	s.metrics.DecrementActive(ctx, tool)
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
}

// ===== SEND MESSAGE =====

type sendMessageInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session identifier; omit to start a new session"`
	Text      string `json:"text" jsonschema:"required,User message: a project idea to start a session, feedback, a revision request, or an approval"`
}

type messageReply struct {
	Author string `json:"author" jsonschema:"Role that wrote the reply (drafter, test_planner, reviewer, system)"`
	Text   string `json:"text" jsonschema:"Reply text; document drafts are rendered as markdown"`
}

type sendMessageOutput struct {
	SessionID string         `json:"session_id" jsonschema:"Session identifier for follow-up turns"`
	Phase     string         `json:"phase" jsonschema:"Session phase after the turn"`
	Replies   []messageReply `json:"replies" jsonschema:"Agent replies produced by the turn"`
}

func (s *Server) sendMessage(ctx context.Context, args sendMessageInput) (sendMessageOutput, error) {
	ctx = logging.WithSessionID(ctx, args.SessionID)

	result, err := s.manager.Message(ctx, args.SessionID, args.Text)
	if err != nil {
		return sendMessageOutput{}, fmt.Errorf("message failed: %w", err)
	}

	out := sendMessageOutput{
		SessionID: result.SessionID,
		Phase:     string(result.Phase),
		Replies:   make([]messageReply, 0, len(result.Replies)),
	}
	for _, r := range result.Replies {
		out.Replies = append(out.Replies, messageReply{
			Author: string(r.Author),
			Text:   r.Text,
		})
	}
	return out, nil
}

func (s *Server) registerSendMessage() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message to a specification session. A project idea starts the draft cycle; later turns carry feedback, revision requests, or approval. Omit session_id to start a new session.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sendMessageInput) (res *mcp.CallToolResult, out sendMessageOutput, err error) {
		s.instrument(ctx, "send_message", func() error {
			out, err = s.sendMessage(ctx, args)
			return err
		})
		if err != nil {
			return nil, sendMessageOutput{}, err
		}

		texts := make([]string, 0, len(out.Replies))
		for _, r := range out.Replies {
			texts = append(texts, r.Text)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: strings.Join(texts, "\n\n")},
			},
		}, out, nil
	})
}

// ===== GET DOCUMENT =====

type getDocumentInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Kind      string `json:"kind" jsonschema:"required,Document kind: functional_spec or test_plan"`
}

type getDocumentOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
	Kind      string `json:"kind" jsonschema:"Document kind"`
	Version   int    `json:"version" jsonschema:"Current version number"`
	Author    string `json:"author" jsonschema:"Role that produced this version"`
	Content   string `json:"content" jsonschema:"Stored artifact content"`
	Markdown  string `json:"markdown" jsonschema:"Markdown rendering of the content"`
}

func (s *Server) getDocument(ctx context.Context, args getDocumentInput) (getDocumentOutput, error) {
	kind, err := document.ParseKind(args.Kind)
	if err != nil {
		return getDocumentOutput{}, err
	}

	ctx = logging.WithSessionID(ctx, args.SessionID)

	v, err := s.store.Current(ctx, args.SessionID, kind)
	if err != nil {
		return getDocumentOutput{}, fmt.Errorf("get document failed: %w", err)
	}

	return getDocumentOutput{
		SessionID: args.SessionID,
		Kind:      string(kind),
		Version:   v.ID,
		Author:    string(v.Author),
		Content:   v.Content,
		Markdown:  export.RenderDocument(kind, v.Content),
	}, nil
}

func (s *Server) registerGetDocument() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_document",
		Description: "Get the current version of a session artifact (functional_spec or test_plan) with a markdown rendering.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getDocumentInput) (res *mcp.CallToolResult, out getDocumentOutput, err error) {
		s.instrument(ctx, "get_document", func() error {
			out, err = s.getDocument(ctx, args)
			return err
		})
		if err != nil {
			return nil, getDocumentOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: out.Markdown},
			},
		}, out, nil
	})
}

// ===== EXPORT TEST PLAN =====

type exportTestPlanInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type exportTestPlanOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
	Version   int    `json:"version" jsonschema:"Exported test plan version"`
	CSV       string `json:"csv" jsonschema:"Azure DevOps test-case CSV"`
}

func (s *Server) exportTestPlan(ctx context.Context, args exportTestPlanInput) (exportTestPlanOutput, error) {
	ctx = logging.WithSessionID(ctx, args.SessionID)

	v, err := s.store.Current(ctx, args.SessionID, document.KindTestPlan)
	if err != nil {
		return exportTestPlanOutput{}, fmt.Errorf("export failed: %w", err)
	}

	out, err := export.TestPlanCSV(v.Content)
	if err != nil {
		return exportTestPlanOutput{}, fmt.Errorf("export failed: %w", err)
	}

	return exportTestPlanOutput{
		SessionID: args.SessionID,
		Version:   v.ID,
		CSV:       out,
	}, nil
}

func (s *Server) registerExportTestPlan() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_test_plan",
		Description: "Export the session's current test plan as an Azure DevOps test-case import CSV.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args exportTestPlanInput) (res *mcp.CallToolResult, out exportTestPlanOutput, err error) {
		s.instrument(ctx, "export_test_plan", func() error {
			out, err = s.exportTestPlan(ctx, args)
			return err
		})
		if err != nil {
			return nil, exportTestPlanOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: out.CSV},
			},
		}, out, nil
	})
}

// ===== SESSION STATUS =====

type sessionStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type sessionStatusOutput struct {
	SessionID    string `json:"session_id" jsonschema:"Session identifier"`
	Phase        string `json:"phase" jsonschema:"Current session phase"`
	Idea         string `json:"idea,omitempty" jsonschema:"Project idea that started the session"`
	MessageCount int    `json:"message_count" jsonschema:"Number of messages in the conversation log"`
	CreatedAt    string `json:"created_at" jsonschema:"Session creation time (RFC 3339)"`
	LastActivity string `json:"last_activity" jsonschema:"Last activity time (RFC 3339)"`
}

func (s *Server) sessionStatus(ctx context.Context, args sessionStatusInput) (sessionStatusOutput, error) {
	ctx = logging.WithSessionID(ctx, args.SessionID)

	snap, err := s.manager.Get(ctx, args.SessionID)
	if err != nil {
		return sessionStatusOutput{}, fmt.Errorf("status failed: %w", err)
	}

	return sessionStatusOutput{
		SessionID:    snap.ID,
		Phase:        string(snap.Phase),
		Idea:         snap.Idea,
		MessageCount: len(snap.Messages),
		CreatedAt:    snap.CreatedAt.Format(time.RFC3339),
		LastActivity: snap.LastActivity.Format(time.RFC3339),
	}, nil
}

func (s *Server) registerSessionStatus() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_status",
		Description: "Get a session's phase, originating idea and activity summary.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionStatusInput) (res *mcp.CallToolResult, out sessionStatusOutput, err error) {
		s.instrument(ctx, "session_status", func() error {
			out, err = s.sessionStatus(ctx, args)
			return err
		})
		if err != nil {
			return nil, sessionStatusOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Session %s is in phase %s with %d messages.", out.SessionID, out.Phase, out.MessageCount)},
			},
		}, out, nil
	})
}
