package tools

import "github.com/42atom/msgcode/internal/providers"

// Definitions returns the provider-facing schema for the closed tool set,
// independent of which tools are actually registered in a given Bus — the
// policy gate, not schema omission, is what enforces the workspace's
// allow-list (spec §4.9).
func Definitions() []providers.ToolDefinition {
	return []providers.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a UTF-8 text file from the workspace.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write (overwrite) a UTF-8 text file in the workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "edit_file",
			Description: "Apply ordered find/replace patches to a workspace file.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"patches": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"oldText": map[string]any{"type": "string"},
								"newText": map[string]any{"type": "string"},
							},
						},
					},
				},
				"required": []string{"path", "patches"},
			},
		},
		{
			Name:        "bash",
			Description: "Run a shell command in the workspace directory.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"command": map[string]any{"type": "string"}},
				"required":   []string{"command"},
			},
		},
		{
			Name:        "desktop",
			Description: "Dispatch a desktop-automation method through the Session Pool. Requires confirmation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"method": map[string]any{"type": "string"},
					"params": map[string]any{"type": "object"},
				},
				"required": []string{"method"},
			},
		},
	}
}
