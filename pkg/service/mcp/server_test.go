package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/service/mcp"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/m-mizutani/kioku/pkg/vector"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newUseCase(t *testing.T) *memory.UseCase {
	provider, err := embedding.New(adapter.NewHashEmbedder(128))
	gt.NoError(t, err)
	t.Cleanup(provider.Close)
	return memory.New(provider, vector.NewRegistry(nil))
}

func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	ctx := context.Background()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any, out any) *mcpsdk.CallToolResult {
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	if out != nil {
		text, ok := result.Content[0].(*mcpsdk.TextContent)
		gt.True(t, ok)
		gt.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return result
}

func TestListTools(t *testing.T) {
	session := connect(t, mcp.NewServer(newUseCase(t)))

	res, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"store_message", "retrieve_context", "detect_memory_query", "handle_memory_query", "detect_references"} {
		gt.True(t, slices.Contains(names, want))
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	session := connect(t, mcp.NewServer(newUseCase(t)))

	var stored memory.StoreResult
	callTool(t, session, "store_message", map[string]any{
		"owner_id": "agent-1",
		"content":  "Mi hermana Lucía vive en Valencia",
	}, &stored)
	gt.Equal(t, stored.Skipped, "")
	gt.A(t, stored.RecordIDs).Length(1)

	var ctxResult memory.ContextResult
	callTool(t, session, "retrieve_context", map[string]any{
		"owner_id": "agent-1",
		"query":    "Mi hermana Lucía vive en Valencia",
	}, &ctxResult)
	gt.A(t, ctxResult.Chunks).Length(1)
	gt.Equal(t, ctxResult.Chunks[0].Content, "Mi hermana Lucía vive en Valencia")
	gt.S(t, ctxResult.Prompt).Contains("[RELEVANT MEMORIES]")
}

func TestDetectMemoryQuery(t *testing.T) {
	session := connect(t, mcp.NewServer(newUseCase(t)))

	var d model.QueryDetection
	callTool(t, session, "detect_memory_query", map[string]any{
		"message": "¿Te acuerdas de lo que hablamos ayer?",
	}, &d)
	gt.True(t, d.IsQuery)
	gt.True(t, d.Confidence >= 0.4)
}

func TestHandleMemoryQuery(t *testing.T) {
	session := connect(t, mcp.NewServer(newUseCase(t)))

	var res memory.QueryResult
	callTool(t, session, "handle_memory_query", map[string]any{
		"owner_id": "agent-1",
		"message":  "¿Te acuerdas de mi gato?",
	}, &res)
	gt.True(t, res.Detected)
	gt.S(t, res.ContextPrompt).Contains("[NO RELEVANT MEMORY FOUND]")
}

func TestMissingOwnerIsToolError(t *testing.T) {
	session := connect(t, mcp.NewServer(newUseCase(t)))

	result := callTool(t, session, "store_message", map[string]any{
		"owner_id": "",
		"content":  "hola",
	}, nil)
	gt.True(t, result.IsError)
}

func TestHTTPHandler(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(mcp.NewServer(newUseCase(t)).Handler())
	defer srv.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: srv.URL}, nil)
	gt.NoError(t, err)
	defer session.Close()

	var refs []*model.ReferenceMatch
	callTool(t, session, "detect_references", map[string]any{
		"text": "Como me contaste, tu hermana Lucía vive en Valencia.",
		"chunks": []map[string]any{
			{"id": "c1", "content": "Mi hermana Lucía vive en Valencia", "source": "vector"},
		},
	}, &refs)
	gt.A(t, refs).Longer(0)
	gt.Equal(t, refs[0].ChunkID, "c1")
}
