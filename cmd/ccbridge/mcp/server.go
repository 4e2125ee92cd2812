package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tomasky/ccbridge/internal/core/config"
	"github.com/tomasky/ccbridge/internal/core/db"
	"github.com/tomasky/ccbridge/internal/core/event"
	"github.com/tomasky/ccbridge/internal/core/models"
	"github.com/tomasky/ccbridge/internal/core/store"
	"github.com/tomasky/ccbridge/internal/core/stream"
)

// ChatArgs defines arguments for the chat tool
type ChatArgs struct {
	Message   string `json:"message" jsonschema:"description=Message to send through the claude CLI,required"`
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session to chat in (default: current session)"`
	New       bool   `json:"new,omitempty" jsonschema:"description=Start a fresh session before sending"`
}

// GetSessionArgs defines arguments for the get_session tool
type GetSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID to retrieve,required"`
}

// SessionSummary represents a session in the list view
type SessionSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
	UpdatedAt    string `json:"updated_at"`
	Current      bool   `json:"current"`
}

// SessionDetail represents a full session with its history
type SessionDetail struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	ExternalSessionID string          `json:"external_session_id,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
	Messages          []MessageDetail `json:"messages"`
}

// MessageDetail represents a single message in a session
type MessageDetail struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type services struct {
	cfg     *config.Config
	store   *store.Store
	manager *stream.Manager
}

// StartServer starts the MCP server
func StartServer(dbPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	persister := db.NewPersister(database)
	state, err := persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	bus := event.NewBus()
	defer func() { _ = bus.Close() }()
	st := store.New(bus)
	st.Hydrate(state)
	persister.Attach(bus)

	manager := stream.New(stream.Config{
		Binary:             cfg.ClaudeBinary,
		ExtraFlags:         cfg.ClaudeFlags,
		ConflictRetryDelay: cfg.ConflictRetryDelay,
		ConflictNotice:     cfg.ConflictNoticeTemplate,
	})

	svc := &services{cfg: cfg, store: st, manager: manager}

	s := server.NewMCPServer(
		"ccbridge",
		"1.0.0",
	)

	chatTool := mcp.NewTool("chat",
		mcp.WithDescription("Send a message through the claude CLI in a ccbridge session and return the full answer. Follow-up calls in the same session resume the conversation."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to send")),
		mcp.WithString("session_id",
			mcp.Description("Session to chat in (default: current session)")),
		mcp.WithBoolean("new",
			mcp.Description("Start a fresh session before sending")),
	)
	s.AddTool(chatTool, makeChatHandler(svc))

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List all ccbridge sessions with message counts and the current-session marker"),
	)
	s.AddTool(listTool, makeListSessionsHandler(svc))

	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Retrieve a session's full conversation history"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID to retrieve")),
	)
	s.AddTool(getTool, makeGetSessionHandler(svc))

	return server.ServeStdio(s)
}

func makeChatHandler(svc *services) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ChatArgs
		argsBytes, _ := json.Marshal(request.Params.Arguments)
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if strings.TrimSpace(args.Message) == "" {
			return mcp.NewToolResultError("message must not be empty"), nil
		}

		if args.SessionID != "" {
			if !svc.store.Switch(args.SessionID) {
				return mcp.NewToolResultError(fmt.Sprintf("no session with id %s", args.SessionID)), nil
			}
		}
		if args.New {
			svc.store.Create("")
		}
		sess := svc.store.Current()

		svc.manager.OnSessionIDChanged(func(id string) {
			svc.store.UpdateExternalSessionID(sess.ID, id)
		})
		svc.store.AddMessage(models.NewMessage(models.RoleUser, args.Message))

		run, err := svc.manager.Run(ctx, args.Message, sess.ExternalSessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var answer strings.Builder
		for fragment := range run.Fragments() {
			answer.WriteString(fragment)
		}
		outcome, runErr := run.Wait()

		if answer.Len() > 0 {
			svc.store.AddMessage(models.NewMessage(models.RoleAssistant, answer.String()))
		}

		switch outcome {
		case stream.OutcomeFailure:
			return mcp.NewToolResultError(runErr.Error()), nil
		case stream.OutcomeStopped:
			svc.store.AddMessage(models.NewMessage(models.RoleSystem, "[stopped]"))
		}

		resultJSON, err := json.Marshal(map[string]interface{}{
			"session_id": sess.ID,
			"outcome":    outcome.String(),
			"answer":     answer.String(),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeListSessionsHandler(svc *services) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		currentID := svc.store.CurrentID()
		var results []SessionSummary
		for _, sess := range svc.store.List() {
			results = append(results, SessionSummary{
				ID:           sess.ID,
				Name:         sess.Name,
				MessageCount: sess.HistoryCount(),
				UpdatedAt:    sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Current:      sess.ID == currentID,
			})
		}

		resultJSON, err := json.Marshal(map[string]interface{}{
			"sessions": results,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeGetSessionHandler(svc *services) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args GetSessionArgs
		argsBytes, _ := json.Marshal(request.Params.Arguments)
		if err := json.Unmarshal(argsBytes, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		sess, ok := svc.store.Get(args.SessionID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no session with id %s", args.SessionID)), nil
		}

		detail := SessionDetail{
			ID:                sess.ID,
			Name:              sess.Name,
			ExternalSessionID: sess.ExternalSessionID,
			CreatedAt:         sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:         sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Messages:          []MessageDetail{},
		}
		for _, msg := range sess.Messages {
			detail.Messages = append(detail.Messages, MessageDetail{
				Role:      string(msg.Role),
				Content:   msg.Content,
				Timestamp: msg.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			})
		}

		resultJSON, err := json.Marshal(detail)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}
