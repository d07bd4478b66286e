package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "kioku"
	serverVersion = "0.1.0"
)

// Server exposes the memory API as MCP tools
type Server struct {
	uc     *memory.UseCase
	server *mcp.Server
}

// NewServer creates an MCP server with the memory tools registered
func NewServer(uc *memory.UseCase) *Server {
	s := &Server{
		uc: uc,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "store_message",
		Description: "Remember a conversation message for later retrieval",
	}, s.storeMessage)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retrieve_context",
		Description: "Retrieve memories relevant to a query as a prompt block",
	}, s.retrieveContext)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "detect_memory_query",
		Description: "Classify whether a message asks about past conversations",
	}, s.detectMemoryQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "handle_memory_query",
		Description: "Detect a question about the past and retrieve the memories that answer it",
	}, s.handleMemoryQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "detect_references",
		Description: "Find spans of generated text that draw on retrieved memories",
	}, s.detectReferences)

	return s
}

// MCPServer returns the underlying SDK server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until ctx is canceled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server failed")
	}
	return nil
}

// Handler returns a streamable HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}, nil, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return goerr.Wrap(&model.InputError{Reason: name + " is required"}, "invalid tool arguments")
	}
	return nil
}

type storeMessageParams struct {
	OwnerID   string         `json:"owner_id" jsonschema:"Owner of the memory, usually the agent ID"`
	SubjectID string         `json:"subject_id,omitempty" jsonschema:"User the message belongs to"`
	Content   string         `json:"content" jsonschema:"Message text"`
	Role      string         `json:"role,omitempty" jsonschema:"user, assistant or system. Defaults to user"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"Extra attributes stored with the message"`
}

func (s *Server) storeMessage(ctx context.Context, req *mcp.CallToolRequest, params *storeMessageParams) (*mcp.CallToolResult, any, error) {
	if err := required("owner_id", params.OwnerID); err != nil {
		return nil, nil, err
	}
	res := s.uc.StoreMessage(ctx, params.OwnerID, params.SubjectID, memory.StoreInput{
		Content:  params.Content,
		Role:     params.Role,
		Metadata: params.Metadata,
	})
	logging.From(ctx).Debug("store_message called", "owner", params.OwnerID, "skipped", res.Skipped)
	return jsonResult(res)
}

type retrieveContextParams struct {
	OwnerID     string `json:"owner_id" jsonschema:"Owner of the memory"`
	SubjectID   string `json:"subject_id,omitempty" jsonschema:"Restrict to memories about this user"`
	Query       string `json:"query" jsonschema:"Text to find related memories for"`
	MaxChunks   int    `json:"max_chunks,omitempty" jsonschema:"Maximum number of memories"`
	TokenBudget int    `json:"token_budget,omitempty" jsonschema:"Maximum size of the prompt block in tokens"`
}

func (s *Server) retrieveContext(ctx context.Context, req *mcp.CallToolRequest, params *retrieveContextParams) (*mcp.CallToolResult, any, error) {
	if err := required("owner_id", params.OwnerID); err != nil {
		return nil, nil, err
	}
	if err := required("query", params.Query); err != nil {
		return nil, nil, err
	}

	opts := memory.RetrieveOptions{TokenBudget: params.TokenBudget}
	if params.MaxChunks > 0 {
		cfg := model.DefaultRetrievalConfig()
		cfg.MaxChunks = params.MaxChunks
		opts.Config = &cfg
	}
	return jsonResult(s.uc.RetrieveContext(ctx, params.OwnerID, params.SubjectID, params.Query, opts))
}

type detectMemoryQueryParams struct {
	Message string `json:"message" jsonschema:"User message to classify"`
}

func (s *Server) detectMemoryQuery(ctx context.Context, req *mcp.CallToolRequest, params *detectMemoryQueryParams) (*mcp.CallToolResult, any, error) {
	return jsonResult(s.uc.DetectMemoryQuery(ctx, params.Message))
}

type handleMemoryQueryParams struct {
	Message     string  `json:"message" jsonschema:"User message"`
	OwnerID     string  `json:"owner_id" jsonschema:"Owner of the memory"`
	SubjectID   string  `json:"subject_id,omitempty" jsonschema:"User the message comes from"`
	MaxMemories int     `json:"max_memories,omitempty" jsonschema:"Maximum number of memories. Defaults to 5"`
	MinScore    float64 `json:"min_score,omitempty" jsonschema:"Minimum fused score. Defaults to 0.5"`
	TokenBudget int     `json:"token_budget,omitempty" jsonschema:"Maximum size of the prompt block in tokens. Defaults to 1000"`
}

func (s *Server) handleMemoryQuery(ctx context.Context, req *mcp.CallToolRequest, params *handleMemoryQueryParams) (*mcp.CallToolResult, any, error) {
	if err := required("owner_id", params.OwnerID); err != nil {
		return nil, nil, err
	}
	return jsonResult(s.uc.HandleMemoryQuery(ctx, params.Message, params.OwnerID, params.SubjectID, memory.HandleConfig{
		MaxMemories: params.MaxMemories,
		MinScore:    params.MinScore,
		TokenBudget: params.TokenBudget,
	}))
}

type referenceChunk struct {
	ID      string `json:"id" jsonschema:"Chunk ID returned by retrieve_context"`
	Content string `json:"content" jsonschema:"Chunk text"`
	Source  string `json:"source,omitempty" jsonschema:"vector, episodic or knowledge"`
}

type detectReferencesParams struct {
	Text   string           `json:"text" jsonschema:"Generated reply to inspect"`
	Chunks []referenceChunk `json:"chunks,omitempty" jsonschema:"Memories that were given to the generator"`
}

func (s *Server) detectReferences(ctx context.Context, req *mcp.CallToolRequest, params *detectReferencesParams) (*mcp.CallToolResult, any, error) {
	chunks := make([]*model.MemoryChunk, len(params.Chunks))
	for i, c := range params.Chunks {
		chunks[i] = &model.MemoryChunk{ID: c.ID, Content: c.Content, Source: model.MemorySource(c.Source)}
	}
	matches := s.uc.DetectReferences(params.Text, chunks)
	if matches == nil {
		matches = []*model.ReferenceMatch{}
	}
	return jsonResult(matches)
}
