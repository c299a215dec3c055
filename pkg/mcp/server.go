// Package mcp adapts calibration results to the Model Context Protocol,
// so agent tooling can browse ranked quantization candidates over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rmax-ai/nshadows/pkg/report"
	"github.com/rmax-ai/nshadows/pkg/store"
)

// Server exposes a calibration results database over MCP.
type Server struct {
	mcpServer *server.MCPServer
	results   *store.Store
}

// NewServer creates a new MCP server instance backed by results.
func NewServer(results *store.Store) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"nshadows",
			"1.0.0",
		),
		results: results,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// nshadows://records
	s.mcpServer.AddResource(mcp.NewResource(
		"nshadows://records",
		"Calibration Records",
		mcp.WithResourceDescription("Raw per-candidate calibration records, keyed by subgraph and candidate index"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadRecords)

	// nshadows://summary
	s.mcpServer.AddResource(mcp.NewResource(
		"nshadows://summary",
		"Ranked Candidate Summary",
		mcp.WithResourceDescription("Per-subgraph mean comparison scores with the best candidate per subgraph"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadSummary)
}

// --- Tools ---

func (s *Server) registerTools() {
	// best_candidate
	s.mcpServer.AddTool(mcp.NewTool(
		"best_candidate",
		mcp.WithDescription("Return the best quantization candidate for one subgraph. Higher mean score is better."),
		mcp.WithString("subgraph_key", mcp.Required(), mcp.Description("The subgraph to rank (e.g., 'subgraph_0')")),
	), s.handleBestCandidate)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"nshadows-aware",
		mcp.WithPromptDescription("Provides context about n-shadows concepts (subgraphs, candidates, comparisons)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

// recordSummary is the JSON surface of one stored record; raw tensors
// stay out, only their counts travel.
type recordSummary struct {
	RefNodeName      string `json:"ref_node_name"`
	QConfigStr       string `json:"qconfig_str"`
	ComparisonFnName string `json:"comparison_fn_name"`
	NumValues        int    `json:"num_values"`
	NumComparisons   int    `json:"num_comparisons"`
}

func (s *Server) handleReadRecords(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	results, err := s.results.LoadResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	out := make(map[string]recordSummary)
	for _, kinds := range results {
		for _, keys := range kinds {
			for key, records := range keys {
				if len(records) == 0 {
					continue
				}
				rec := records[0]
				out[key] = recordSummary{
					RefNodeName:      rec.RefNodeName,
					QConfigStr:       rec.QConfigStr,
					ComparisonFnName: rec.ComparisonFnName,
					NumValues:        len(rec.Values),
					NumComparisons:   len(rec.Comparisons),
				}
			}
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

type candidateSummary struct {
	QConfigStr string  `json:"qconfig_str"`
	CmpMean    float64 `json:"cmp_mean"`
}

type subgraphSummary struct {
	RefNodeName string                      `json:"ref_node_name"`
	BestIdx     int                         `json:"best_idx"`
	Candidates  map[string]candidateSummary `json:"candidates"`
}

func (s *Server) handleReadSummary(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cmp, err := s.loadComparison(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]subgraphSummary)
	for name, sg := range cmp {
		out[name] = summarize(sg)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleBestCandidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subgraphKey := mcp.ParseString(request, "subgraph_key", "")

	cmp, err := s.loadComparison(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("results error: %v", err)), nil
	}

	sg, ok := cmp[subgraphKey]
	if !ok {
		known := make([]string, 0, len(cmp))
		for name := range cmp {
			known = append(known, name)
		}
		sort.Strings(known)
		return mcp.NewToolResultError(fmt.Sprintf("unknown subgraph %q; known: %s",
			subgraphKey, strings.Join(known, ", "))), nil
	}

	summary := summarize(sg)
	var b strings.Builder
	fmt.Fprintf(&b, "%s (ref node %s): best candidate %d\n", subgraphKey, sg.RefNodeName, summary.BestIdx)
	for _, key := range sg.CandidateKeys() {
		c := sg.Candidates[key]
		fmt.Fprintf(&b, "  candidate %s (%s): mean %s = %.4f\n", key, c.QConfigStr, c.ComparisonFnName, c.CmpMean)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "nshadows-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with nshadows, an accuracy-debugging tool for quantized model graphs.

Concepts:
- Subgraph: A small chain of operations (e.g., linear -> relu) extracted from the model.
- Candidate: One copy of a subgraph running under a quantization configuration. Candidate 0 is the unquantized baseline.
- Comparison: A similarity score (e.g., SQNR, cosine) between a candidate's output and the baseline output, recorded per calibration batch.
- Summary: Per-subgraph mean scores across batches. Higher is better; the best candidate index is 1-based.

When the user asks which quantization setting to use for a layer, use the 'best_candidate' tool with the layer's subgraph key.
`

	return mcp.NewGetPromptResult(
		"nshadows-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func (s *Server) loadComparison(ctx context.Context) (report.Comparison, error) {
	results, err := s.results.LoadResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	grouped, err := report.GroupResultsBySubgraph(results)
	if err != nil {
		return nil, fmt.Errorf("failed to group results: %w", err)
	}
	cmp, err := report.CreateResultsComparison(grouped)
	if err != nil {
		return nil, fmt.Errorf("failed to compare results: %w", err)
	}
	return cmp, nil
}

func summarize(sg report.SubgraphComparison) subgraphSummary {
	candidates := make(map[string]candidateSummary)
	var means []float64
	for _, key := range sg.CandidateKeys() {
		c := sg.Candidates[key]
		candidates[key] = candidateSummary{QConfigStr: c.QConfigStr, CmpMean: c.CmpMean}
		means = append(means, c.CmpMean)
	}
	return subgraphSummary{
		RefNodeName: sg.RefNodeName,
		BestIdx:     report.BestCandidate(means),
		Candidates:  candidates,
	}
}
