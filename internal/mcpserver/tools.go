package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

const (
	toolQuery   = "gemini_query"
	toolMetrics = "gemini_metrics"
)

func queryTool() mcp.Tool {
	stringItems := map[string]any{"type": "string"}

	return mcp.NewTool(toolQuery,
		mcp.WithDescription(
			"Ask Gemini a question, optionally with files as context. "+
				"Files and glob matches are read and piped to the gemini CLI. "+
				"Models are tried in order until one answers; the reply ends with "+
				"a footer naming the model used and its token counts."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The instruction or question for Gemini"),
		),
		mcp.WithArray("files",
			mcp.Description("File paths to include as context"),
			mcp.Items(stringItems),
		),
		mcp.WithArray("glob_patterns",
			mcp.Description("Glob patterns to include, ** matches across directories (e.g. src/**/*.go)"),
			mcp.Items(stringItems),
		),
		mcp.WithString("model",
			mcp.Description("Use exactly this model, with no fallback"),
		),
		mcp.WithArray("models",
			mcp.Description("Models to try in order; the first success wins"),
			mcp.Items(stringItems),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Per-attempt timeout in seconds (default from config)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Resume a previous Gemini session (reported in an earlier footer)"),
		),
	)
}

func metricsTool() mcp.Tool {
	return mcp.NewTool(toolMetrics,
		mcp.WithDescription("Report call counts, latencies, retries and fallbacks for this server as JSON."),
	)
}
