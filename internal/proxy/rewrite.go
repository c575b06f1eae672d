package proxy

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/paths"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/schema"
)

// convertFunc rewrites one path string for a fixed direction.
type convertFunc func(path string) string

// toolSpec describes a proxied tool: its required arguments, which argument
// keys carry client paths, and how paths come back in the response payload.
type toolSpec struct {
	// required arguments; absence is a 400.
	required []string
	// requestPaths are argument keys rewritten client→server when present
	// and non-blank.
	requestPaths []string
	// response rewrites server paths in a decoded text-block payload,
	// server→client. Nil when the response carries no paths.
	response func(conv convertFunc, payload map[string]any)
}

// newToolSpecs builds the rewriter registry.
func newToolSpecs() map[string]*toolSpec {
	return map[string]*toolSpec{
		"get_all_open_file_paths": {
			response: rewriteOpenFilePaths,
		},
		"get_file_problems": {
			required:     []string{"filePath"},
			requestPaths: []string{"filePath"},
			response:     rewriteFilePathField,
		},
		"get_file_text_by_path": {
			required:     []string{"pathInProject"},
			requestPaths: []string{"pathInProject"},
		},
		"list_directory_tree": {
			required:     []string{"directoryPath"},
			requestPaths: []string{"directoryPath"},
			response:     rewriteDirectoryTree,
		},
		"reformat_file": {
			required:     []string{"path"},
			requestPaths: []string{"path"},
		},
		"rename_refactoring": {
			required:     []string{"pathInProject", "symbolName", "newName"},
			requestPaths: []string{"pathInProject"},
		},
		"replace_text_in_file": {
			required:     []string{"pathInProject", "oldText", "newText"},
			requestPaths: []string{"pathInProject"},
		},
		"search_in_files_by_regex": {
			required:     []string{"regexPattern"},
			requestPaths: []string{"directoryToSearch"},
			response:     rewriteSearchEntries,
		},
		"search_in_files_by_text": {
			required:     []string{"searchText"},
			requestPaths: []string{"directoryToSearch"},
			response:     rewriteSearchEntries,
		},
	}
}

func (t *toolSpec) checkRequired(arguments map[string]any) error {
	for _, name := range t.required {
		if _, ok := arguments[name]; !ok {
			log.Error().Str("argument", name).Msg("Missing required argument")
			return schema.NewToolError(schema.CodeBadRequest, "missing required argument: %s", name)
		}
	}
	return nil
}

// pathMismatch reports whether any translation is needed at all.
func (s *Supervisor) pathMismatch() bool {
	return s.cfg.ClientPathType != s.cfg.ServerPathType
}

// rewriteArguments converts path-bearing arguments client→server in place.
func (s *Supervisor) rewriteArguments(spec *toolSpec, arguments map[string]any) {
	if !s.pathMismatch() {
		return
	}
	for _, key := range spec.requestPaths {
		if v, ok := arguments[key].(string); ok && strings.TrimSpace(v) != "" {
			arguments[key] = paths.Convert(v, s.cfg.ClientPathType, s.cfg.ServerPathType)
		}
	}
}

// rewriteResult converts server paths inside the response's text blocks
// back to the client style. The payloads are JSON documents embedded in
// text content; a failed inner rewrite is logged and the block is left as
// delivered. Error results and empty content pass through untouched.
func (s *Supervisor) rewriteResult(spec *toolSpec, result *mcp.ToolResult) {
	if spec.response == nil || !s.pathMismatch() || result == nil || result.IsError || len(result.Content) == 0 {
		return
	}

	conv := func(p string) string {
		return paths.Convert(p, s.cfg.ServerPathType, s.cfg.ClientPathType)
	}

	for i := range result.Content {
		block := &result.Content[i]
		if block.Type != "text" || block.Text == "" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(block.Text), &payload); err != nil {
			log.Warn().Err(err).Msg("Exception decoding tool response payload, skipping path conversion")
			continue
		}
		spec.response(conv, payload)
		data, err := json.Marshal(payload)
		if err != nil {
			log.Warn().Err(err).Msg("Exception encoding converted tool response payload, keeping original")
			continue
		}
		block.Text = string(data)
	}
}

// convertField rewrites one string field of the payload if present and
// non-blank.
func convertField(conv convertFunc, payload map[string]any, key string) {
	if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
		payload[key] = conv(v)
	}
}

// rewriteOpenFilePaths handles get_all_open_file_paths: activeFilePath plus
// every entry of openFiles.
func rewriteOpenFilePaths(conv convertFunc, payload map[string]any) {
	convertField(conv, payload, "activeFilePath")

	if open, ok := payload["openFiles"].([]any); ok {
		converted := make([]any, 0, len(open))
		for _, entry := range open {
			if p, ok := entry.(string); ok && strings.TrimSpace(p) != "" {
				converted = append(converted, conv(p))
			}
		}
		payload["openFiles"] = converted
	}
}

// rewriteFilePathField handles responses carrying a single filePath field.
func rewriteFilePathField(conv convertFunc, payload map[string]any) {
	convertField(conv, payload, "filePath")
}

// rewriteDirectoryTree handles list_directory_tree: traversedDirectory and
// the root line of the rendered tree. Interior tree lines are indented
// relative paths and stay as-is.
func rewriteDirectoryTree(conv convertFunc, payload map[string]any) {
	convertField(conv, payload, "traversedDirectory")

	tree, ok := payload["tree"].(string)
	if !ok || strings.TrimSpace(tree) == "" {
		return
	}
	root, rest, found := strings.Cut(tree, "\n")
	root = conv(root)
	if found {
		payload["tree"] = root + "\n" + rest
	} else {
		payload["tree"] = root
	}
}

// rewriteSearchEntries handles the search tools: each entries[].filePath.
func rewriteSearchEntries(conv convertFunc, payload map[string]any) {
	entries, ok := payload["entries"].([]any)
	if !ok {
		return
	}
	for _, e := range entries {
		if entry, ok := e.(map[string]any); ok {
			convertField(conv, entry, "filePath")
		}
	}
}
