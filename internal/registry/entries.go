package registry

import (
	"encoding/json"
	"fmt"

	"github.com/halvorsen-dev/claude-relay/internal/config"
)

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// buildEntries returns the registry's fifteen tools in stable declaration
// order, with descriptions templated for the host OS family so the model
// emits shell syntax the host can execute.
func buildEntries(os config.OSFamily) []Entry {
	shellExample := "ls -la"
	shellName := "bash"
	if os == config.OSWindows {
		shellExample = "dir"
		shellName = "PowerShell"
	}

	return []Entry{
		{
			Name:        "read_file",
			Description: "Read the contents of a file from the local filesystem.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"file_path": {"type": "string"},
					"offset": {"type": "number"},
					"limit": {"type": "number"}
				},
				"required": ["file_path"]
			}`),
			Required: []string{"file_path"},
			Rename:   map[string]string{"path": "file_path"},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating it if it does not exist.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"file_path": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["file_path", "content"]
			}`),
			Required: []string{"file_path", "content"},
			Rename:   map[string]string{"path": "file_path", "text": "content"},
		},
		{
			Name:        "edit_file",
			Description: "Replace one exact occurrence of old_string with new_string in a file.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"file_path": {"type": "string"},
					"old_string": {"type": "string"},
					"new_string": {"type": "string"}
				},
				"required": ["file_path", "old_string", "new_string"]
			}`),
			Required: []string{"file_path", "old_string", "new_string"},
			Rename:   map[string]string{"path": "file_path"},
		},
		{
			Name:        "multi_edit_file",
			Description: "Apply an ordered sequence of old_string/new_string edits to one file.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"file_path": {"type": "string"},
					"edits": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["file_path", "edits"]
			}`),
			Required: []string{"file_path", "edits"},
			Rename:   map[string]string{"path": "file_path"},
		},
		{
			Name:        "run_bash",
			Description: fmt.Sprintf("Run a %s command and return its output, e.g. %q.", shellName, shellExample),
			Schema: schema(`{
				"type": "object",
				"properties": {
					"command": {"type": "string"},
					"timeout_ms": {"type": "number"},
					"run_in_background": {"type": "boolean"}
				},
				"required": ["command"]
			}`),
			Required: []string{"command"},
			Rename:   map[string]string{"cmd": "command"},
		},
		{
			Name:        "grep_search",
			Description: "Search file contents for a regular expression pattern.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string"},
					"path": {"type": "string"},
					"glob": {"type": "string"}
				},
				"required": ["pattern"]
			}`),
			Required: []string{"pattern"},
		},
		{
			Name:        "search_files",
			Description: "Find files by name glob pattern.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string"},
					"path": {"type": "string"}
				},
				"required": ["pattern"]
			}`),
			Required: []string{"pattern"},
		},
		{
			Name:        "web_fetch",
			Description: "Fetch the content of a URL.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"}
				},
				"required": ["url"]
			}`),
			Required: []string{"url"},
		},
		{
			Name:        "web_search",
			Description: "Search the web and return a short summary of results.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"}
				},
				"required": ["query"]
			}`),
			Required: []string{"query"},
		},
		{
			Name:        "manage_todos",
			Description: "Replace the current task list with the given todos.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"todos": {
						"type": "array",
						"items": {"type": "string"}
					}
				},
				"required": ["todos"]
			}`),
			Required: []string{"todos"},
			Rename:   map[string]string{"tasks": "todos"},
		},
		{
			Name:        "edit_notebook",
			Description: "Edit a cell of a Jupyter notebook file.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"notebook_path": {"type": "string"},
					"cell_index": {"type": "number"},
					"new_source": {"type": "string"}
				},
				"required": ["notebook_path", "cell_index", "new_source"]
			}`),
			Required: []string{"notebook_path", "cell_index", "new_source"},
			Rename:   map[string]string{"path": "notebook_path"},
		},
		{
			Name:        "get_bash_output",
			Description: "Retrieve output from a previously started background bash shell.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"shell_id": {"type": "string"}
				},
				"required": ["shell_id"]
			}`),
			Required: []string{"shell_id"},
		},
		{
			Name:        "kill_bash_shell",
			Description: "Terminate a previously started background bash shell.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"shell_id": {"type": "string"}
				},
				"required": ["shell_id"]
			}`),
			Required: []string{"shell_id"},
		},
		{
			Name:        "delegate_task",
			Description: "Delegate a self-contained sub-task to a background agent.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"description": {"type": "string"},
					"prompt": {"type": "string"}
				},
				"required": ["description", "prompt"]
			}`),
			Required: []string{"description", "prompt"},
			Rename:   map[string]string{"content": "prompt"},
		},
		{
			Name:        "exit_plan_mode",
			Description: "Exit planning mode and present a plan for approval before executing it.",
			Schema: schema(`{
				"type": "object",
				"properties": {
					"plan": {"type": "string"}
				},
				"required": ["plan"]
			}`),
			Required: []string{"plan"},
		},
	}
}
