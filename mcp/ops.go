package mcp

import (
	"context"
	"encoding/json"
	"os"

	aikit "github.com/takatoshi-maeda/ai-kit"
)

// RegisterStandardOps registers the bookkeeping operations every server
// exposes alongside agent.run: agent.list, conversations.list|get|delete,
// usage.summary and health.check.
func RegisterStandardOps(s *Server, reg *Registry, store aikit.Store) {
	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "agent.list",
			Description: "List the agents available on this server.",
			Parameters:  objectSchema(nil, nil),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			return JSONResult(struct {
				Agents []AgentInfo `json:"agents"`
			}{Agents: reg.List()})
		},
	})

	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "conversations.list",
			Description: "List stored conversations, most recently updated first.",
			Parameters: objectSchema(map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum number of conversations to return."},
			}, nil),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			var params struct {
				Limit int `json:"limit"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return ErrorResult("invalid arguments: " + err.Error())
				}
			}
			summaries, err := store.ListConversations(ctx, params.Limit)
			if err != nil {
				return ErrorResult("list conversations: " + err.Error())
			}
			return JSONResult(struct {
				Conversations []aikit.ConversationSummary `json:"conversations"`
			}{Conversations: summaries})
		},
	})

	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "conversations.get",
			Description: "Fetch the turns of one stored conversation.",
			Parameters: objectSchema(map[string]any{
				"session_id": map[string]any{"type": "string"},
			}, []string{"session_id"}),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			var params struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			if params.SessionID == "" {
				return ErrorResult("session_id is required")
			}
			turns, err := store.GetConversation(ctx, params.SessionID)
			if err != nil {
				return ErrorResult("get conversation: " + err.Error())
			}
			return JSONResult(struct {
				SessionID string                   `json:"session_id"`
				Turns     []aikit.ConversationTurn `json:"turns"`
			}{SessionID: params.SessionID, Turns: turns})
		},
	})

	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "conversations.delete",
			Description: "Delete one stored conversation and its ledgers.",
			Parameters: objectSchema(map[string]any{
				"session_id": map[string]any{"type": "string"},
			}, []string{"session_id"}),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			var params struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			if params.SessionID == "" {
				return ErrorResult("session_id is required")
			}
			if err := store.DeleteConversation(ctx, params.SessionID); err != nil {
				return ErrorResult("delete conversation: " + err.Error())
			}
			return JSONResult(struct {
				SessionID string `json:"session_id"`
				Deleted   bool   `json:"deleted"`
			}{SessionID: params.SessionID, Deleted: true})
		},
	})

	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "usage.summary",
			Description: "Summarize token usage and cost per period bucket.",
			Parameters: objectSchema(map[string]any{
				"period": map[string]any{"type": "string", "description": "Bucket size: day or month.", "enum": []string{"day", "month"}},
			}, nil),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			var params struct {
				Period string `json:"period"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return ErrorResult("invalid arguments: " + err.Error())
				}
			}
			if params.Period == "" {
				params.Period = "day"
			}
			summaries, err := store.SummarizeUsage(ctx, params.Period)
			if err != nil {
				return ErrorResult("summarize usage: " + err.Error())
			}
			return JSONResult(struct {
				Period    string               `json:"period"`
				Summaries []aikit.UsageSummary `json:"summaries"`
			}{Period: params.Period, Summaries: summaries})
		},
	})

	s.Register(Operation{
		Def: aikit.ToolDefinition{
			Name:        "health.check",
			Description: "Report server and storage health.",
			Parameters:  objectSchema(nil, nil),
		},
		Execute: func(ctx context.Context, args json.RawMessage) CallResult {
			status := "ok"
			storage := "ok"
			if err := store.Ping(ctx); err != nil {
				status = "degraded"
				storage = err.Error()
			}
			return JSONResult(struct {
				Status  string `json:"status"`
				Storage string `json:"storage"`
				PID     int    `json:"pid"`
				Time    int64  `json:"time"`
			}{Status: status, Storage: storage, PID: os.Getpid(), Time: aikit.NowUnix()})
		},
	})
}

// objectSchema builds a small JSON Schema for an operation's arguments.
func objectSchema(props map[string]any, required []string) json.RawMessage {
	schema := map[string]any{"type": "object"}
	if len(props) > 0 {
		schema["properties"] = props
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}
