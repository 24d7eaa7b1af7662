package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrlhq/sqrl/internal/llm"
	"github.com/sqrlhq/sqrl/pkg/types"
)

// testClient is a line-oriented JSON-RPC client over the test socket.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) call(t *testing.T, raw string) map[string]any {
	t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", raw)
	require.NoError(t, err)

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func errorCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error response, got %v", resp)
	return int(errObj["code"].(float64))
}

func startServer(t *testing.T, register func(*Server)) *testClient {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "sqrl.sock")
	srv := NewServer(socketPath)
	if register != nil {
		register(srv)
	}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func TestDispatchRoundTrip(t *testing.T) {
	client := startServer(t, func(srv *Server) {
		require.NoError(t, srv.Register("ping", func(_ context.Context, _ json.RawMessage) (any, error) {
			return map[string]string{"pong": "ok"}, nil
		}))
	})

	resp := client.call(t, `{"jsonrpc":"2.0","method":"ping","id":7}`)
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, float64(7), resp["id"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, "ok", result["pong"])
}

func TestSequentialRequestsOnOneConnection(t *testing.T) {
	client := startServer(t, func(srv *Server) {
		srv.Register("echo", func(_ context.Context, params json.RawMessage) (any, error) {
			var v map[string]any
			json.Unmarshal(params, &v)
			return v, nil
		})
	})

	for i := 0; i < 3; i++ {
		resp := client.call(t, fmt.Sprintf(`{"jsonrpc":"2.0","method":"echo","params":{"n":%d},"id":%d}`, i, i))
		assert.Equal(t, float64(i), resp["id"])
		assert.Equal(t, float64(i), resp["result"].(map[string]any)["n"])
	}
}

func TestParseError(t *testing.T) {
	client := startServer(t, nil)
	resp := client.call(t, `{not json`)
	assert.Equal(t, CodeParseError, errorCode(t, resp))
	assert.Nil(t, resp["id"])
}

func TestInvalidRequestVersion(t *testing.T) {
	client := startServer(t, nil)
	resp := client.call(t, `{"jsonrpc":"1.0","method":"ping","id":1}`)
	assert.Equal(t, CodeInvalidRequest, errorCode(t, resp))
}

func TestMethodNotFound(t *testing.T) {
	client := startServer(t, nil)
	resp := client.call(t, `{"jsonrpc":"2.0","method":"no_such_method","id":2}`)
	assert.Equal(t, CodeMethodNotFound, errorCode(t, resp))
	assert.Equal(t, float64(2), resp["id"])
}

func TestValidationErrorMapsToInvalidParams(t *testing.T) {
	client := startServer(t, func(srv *Server) {
		srv.Register("strict", func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, fmt.Errorf("%w: missing field", ErrValidation)
		})
	})
	resp := client.call(t, `{"jsonrpc":"2.0","method":"strict","id":3}`)
	assert.Equal(t, CodeInvalidParams, errorCode(t, resp))
}

func TestUnexpectedErrorMapsToInternal(t *testing.T) {
	client := startServer(t, func(srv *Server) {
		srv.Register("boom", func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, fmt.Errorf("disk on fire")
		})
	})
	resp := client.call(t, `{"jsonrpc":"2.0","method":"boom","id":4}`)
	assert.Equal(t, CodeInternalError, errorCode(t, resp))
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	srv := NewServer(filepath.Join(t.TempDir(), "dup.sock"))
	noop := func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil }
	require.NoError(t, srv.Register("m", noop))
	assert.Error(t, srv.Register("m", noop))
}

func TestStaleSocketRemoved(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "stale.sock")

	// Simulate a crashed daemon: something is left at the socket path.
	require.NoError(t, writeStaleSocket(socketPath))

	srv := NewServer(socketPath)
	require.NoError(t, srv.Listen())
	srv.Close()
}

func writeStaleSocket(path string) error {
	return os.WriteFile(path, nil, 0o600)
}

// stubCleaner and stubExtractor script the two classifier stages.
type stubCleaner struct {
	out *types.CleanerOutput
	err error
}

func (c *stubCleaner) Clean(context.Context, string, []types.EpisodeEvent) (*types.CleanerOutput, error) {
	return c.out, c.err
}

type stubExtractor struct {
	out *types.ExtractorOutput
	err error
	got llm.ExtractRequest
}

func (e *stubExtractor) Extract(_ context.Context, req llm.ExtractRequest) (*types.ExtractorOutput, error) {
	e.got = req
	return e.out, e.err
}

func processEpisodeClient(t *testing.T, cleaner llm.LogCleaner, extractor llm.MemoryExtractor) *testClient {
	t.Helper()
	return startServer(t, func(srv *Server) {
		require.NoError(t, NewEpisodeProcessor(cleaner, extractor).RegisterWith(srv))
	})
}

const validEpisodeParams = `{"project_id":"proj-1","project_root":"/home/dev/proj",` +
	`"events":[{"ts":"2026-03-14T09:00:00Z","role":"user","content_summary":"use httpx not requests"}],` +
	`"existing_user_styles":[],"existing_project_memories":[]}`

func TestProcessEpisodeSkipped(t *testing.T) {
	cleaner := &stubCleaner{out: &types.CleanerOutput{Skip: true, SkipReason: "no correction found"}}
	client := processEpisodeClient(t, cleaner, &stubExtractor{})

	resp := client.call(t, `{"jsonrpc":"2.0","method":"process_episode","params":`+validEpisodeParams+`,"id":1}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["skipped"])
	assert.Equal(t, "no correction found", result["skip_reason"])
	assert.Empty(t, result["user_styles"])
	assert.Empty(t, result["project_memories"])
}

func TestProcessEpisodeExtracts(t *testing.T) {
	cleaner := &stubCleaner{out: &types.CleanerOutput{Skip: false, CorrectionContext: "prefers httpx over requests"}}
	extractor := &stubExtractor{out: &types.ExtractorOutput{
		UserStyles: []types.UserStyleOp{{Op: types.ExtractorAdd, Text: "prefers httpx", Confidence: 0.9}},
	}}
	client := processEpisodeClient(t, cleaner, extractor)

	resp := client.call(t, `{"jsonrpc":"2.0","method":"process_episode","params":`+validEpisodeParams+`,"id":2}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, false, result["skipped"])

	styles := result["user_styles"].([]any)
	require.Len(t, styles, 1)
	assert.Equal(t, "ADD", styles[0].(map[string]any)["op"])
	// project_memories must still be present as an empty list.
	assert.NotNil(t, result["project_memories"])

	assert.Equal(t, "prefers httpx over requests", extractor.got.CorrectionContext)
	assert.Equal(t, "proj-1", extractor.got.ProjectID)
}

func TestProcessEpisodeParamValidation(t *testing.T) {
	client := processEpisodeClient(t, &stubCleaner{}, &stubExtractor{})

	resp := client.call(t, `{"jsonrpc":"2.0","method":"process_episode","params":{"project_id":"p"},"id":3}`)
	assert.Equal(t, CodeInvalidParams, errorCode(t, resp))

	relRoot := `{"jsonrpc":"2.0","method":"process_episode","params":{"project_id":"p","project_root":"rel/path",` +
		`"events":[{"ts":"2026-03-14T09:00:00Z","role":"user","content_summary":"x"}]},"id":4}`
	resp = client.call(t, relRoot)
	assert.Equal(t, CodeInvalidProjectRoot, errorCode(t, resp))
}

func TestProcessEpisodeLLMError(t *testing.T) {
	cleaner := &stubCleaner{err: fmt.Errorf("model overloaded")}
	client := processEpisodeClient(t, cleaner, &stubExtractor{})

	resp := client.call(t, `{"jsonrpc":"2.0","method":"process_episode","params":`+validEpisodeParams+`,"id":5}`)
	assert.Equal(t, CodeLLMError, errorCode(t, resp))
}
