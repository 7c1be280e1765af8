package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// JSON-RPC framing for Model Context Protocol servers speaking over stdio.
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpErrorBody   `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type mcpErrorBody struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPClient speaks JSON-RPC to one MCP server subprocess over stdio. Requests
// are correlated by id; responses arrive on a single reader goroutine.
type MCPClient struct {
	serverID string
	command  string
	args     []string
	timeout  time.Duration

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *mcpResponse
}

// NewMCPClient creates a client for the given server command. The process is
// started lazily on first use.
func NewMCPClient(serverID, command string, args []string, timeout time.Duration) *MCPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MCPClient{
		serverID: serverID,
		command:  command,
		args:     args,
		timeout:  timeout,
		pending:  make(map[int]chan *mcpResponse),
	}
}

// Start launches the server process and performs the initialize handshake.
// Calling Start on a running client is a no-op.
func (c *MCPClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	c.process = cmd
	c.stdin = stdin
	c.stdout = bufio.NewScanner(stdout)

	go c.listen()

	_, err = c.callLocked(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "drover",
			"version": "0.1.0",
		},
	})
	return err
}

// Stop kills the server process.
func (c *MCPClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.process != nil && c.process.Process != nil {
		return c.process.Process.Kill()
	}
	return nil
}

func (c *MCPClient) listen() {
	for c.stdout.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(c.stdout.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("server", c.serverID).Msg("Failed to unmarshal MCP response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			c.mu.Lock()
			ch, exists := c.pending[int(id)]
			if exists {
				delete(c.pending, int(id))
				ch <- &resp
			}
			c.mu.Unlock()
		}
	}
}

func (c *MCPClient) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server %s: %w", c.serverID, err)
	}
	return c.callLocked(ctx, method, params)
}

func (c *MCPClient) callLocked(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	c.mu.Lock()
	c.id++
	id := c.id
	ch := make(chan *mcpResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := mcpRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("MCP request timeout after %s", c.timeout)
	}
}

// ListTools fetches tool definitions advertised by the server.
func (c *MCPClient) ListTools(ctx context.Context) ([]Definition, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  parseMCPParameters(t.InputSchema),
		})
	}
	return defs, nil
}

// CallTool executes a remote tool and returns the raw result payload.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func parseMCPParameters(schema json.RawMessage) []Parameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}
	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]Parameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		param := Parameter{Name: name, Required: required[name]}
		if typeVal, ok := prop["type"].(string); ok {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		params = append(params, param)
	}
	return params
}

// MCPTool is the MCP-bridged variant: schema and execution are proxied through
// a third-party MCP server via a shared client.
type MCPTool struct {
	client *MCPClient
	def    Definition
}

// NewMCPTool wraps one remote tool definition behind the Tool contract.
func NewMCPTool(client *MCPClient, def Definition) (*MCPTool, error) {
	if client == nil {
		return nil, &ConfigurationError{Reason: "MCP tool requires a client"}
	}
	if def.Name == "" {
		return nil, &ConfigurationError{Reason: "MCP tool definition has no name"}
	}
	return &MCPTool{client: client, def: def}, nil
}

func (t *MCPTool) Name() string { return t.def.Name }

func (t *MCPTool) Definition() Definition { return t.def }

func (t *MCPTool) EvaluationChecks() []string { return nil }

func (t *MCPTool) Exclusive() bool { return false }

func (t *MCPTool) Enabled() bool { return true }

func (t *MCPTool) TakesControl() bool { return false }

func (t *MCPTool) Execute(ctx context.Context, call Call) (Response, error) {
	result, err := t.client.CallTool(ctx, t.def.Name, call.Arguments)
	if err != nil {
		return Response{}, &ExecutionError{Tool: t.def.Name, Err: err}
	}

	content, err := renderMCPContent(result)
	if err != nil {
		return Response{}, &ExecutionError{Tool: t.def.Name, Err: err}
	}

	return Response{
		ID:      call.ID,
		Name:    t.def.Name,
		Content: content,
		DebugInfo: map[string]interface{}{
			"mcp_server": t.client.serverID,
		},
	}, nil
}

// renderMCPContent flattens an MCP tools/call result into plain text. Text
// blocks are concatenated; anything else falls back to JSON.
func renderMCPContent(result map[string]interface{}) (string, error) {
	blocks, ok := result["content"].([]interface{})
	if !ok {
		data, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	text := ""
	for _, blockData := range blocks {
		block, ok := blockData.(map[string]interface{})
		if !ok {
			continue
		}
		if blockText, ok := block["text"].(string); ok {
			text += blockText
		}
	}
	return text, nil
}
