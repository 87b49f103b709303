// Package mcpadapter turns any backend.Backend into an MCP tool server
// (spec.md §4.10), grounded on the teacher's internal/server.registerTools
// and internal/tools typed-input/output pattern.
package mcpadapter

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentfs/workspaced/internal/backend"
)

func boolPtr(b bool) *bool { return &b }

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// serverName derives the MCP server implementation name from the backend
// kind (e.g. "local-filesystem", "memory", "remote-filesystem").
func serverName(k backend.Kind) string {
	switch k {
	case backend.KindLocal:
		return "local-filesystem"
	case backend.KindRemote:
		return "remote-filesystem"
	case backend.KindMemory:
		return "memory"
	default:
		return string(k)
	}
}

// New builds an MCP server exposing b's operations as tools, with the exec
// tool registered only when b advertises command execution via
// backend.ExecCapable.
func New(b backend.Backend, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    serverName(b.Kind()),
		Version: version,
	}, nil)
	Register(srv, b)
	return srv
}

// Register adds b's tool table to an existing MCP server, so callers that
// already own a *mcp.Server (the daemon's shared instance) can reuse it.
func Register(srv *mcp.Server, b backend.Backend) {
	d := &Deps{Backend: b}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_text_file",
		Description: "Read a text file's full contents.",
		Annotations: &mcp.ToolAnnotations{
			Title:          "Read Text File",
			ReadOnlyHint:   true,
			IdempotentHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ReadTextFileInput) (*mcp.CallToolResult, any, error) {
		out, err := handleReadTextFile(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "write_file",
		Description: "Write a file's full contents, creating parent directories as needed.",
		Annotations: &mcp.ToolAnnotations{
			Title:           "Write File",
			DestructiveHint: boolPtr(true),
			IdempotentHint:  true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in WriteFileInput) (*mcp.CallToolResult, any, error) {
		out, err := handleWriteFile(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_directory",
		Description: "List the entry names of a directory.",
		Annotations: &mcp.ToolAnnotations{
			Title:        "List Directory",
			ReadOnlyHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListDirectoryInput) (*mcp.CallToolResult, any, error) {
		out, err := handleListDirectory(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "directory_tree",
		Description: "Recursively list a directory as a nested tree, applying an exclude-pattern list.",
		Annotations: &mcp.ToolAnnotations{
			Title:        "Directory Tree",
			ReadOnlyHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in DirectoryTreeInput) (*mcp.CallToolResult, any, error) {
		out, err := handleDirectoryTree(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_directory",
		Description: "Create a directory, optionally creating parents.",
		Annotations: &mcp.ToolAnnotations{
			Title:          "Create Directory",
			IdempotentHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in CreateDirectoryInput) (*mcp.CallToolResult, any, error) {
		out, err := handleCreateDirectory(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "move_file",
		Description: "Rename or move a file or directory.",
		Annotations: &mcp.ToolAnnotations{
			Title:           "Move File",
			DestructiveHint: boolPtr(false),
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in MoveFileInput) (*mcp.CallToolResult, any, error) {
		out, err := handleMoveFile(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_files",
		Description: "Recursively search a directory for entry names containing a pattern.",
		Annotations: &mcp.ToolAnnotations{
			Title:        "Search Files",
			ReadOnlyHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SearchFilesInput) (*mcp.CallToolResult, any, error) {
		out, err := handleSearchFiles(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_file_info",
		Description: "Get size, mode, directory flag, and modification time for a path.",
		Annotations: &mcp.ToolAnnotations{
			Title:        "Get File Info",
			ReadOnlyHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in GetFileInfoInput) (*mcp.CallToolResult, any, error) {
		out, err := handleGetFileInfo(ctx, d, in)
		if err != nil {
			return nil, nil, err
		}
		return textResult(out.Text()), out, nil
	})

	if ec, ok := b.(backend.ExecCapable); ok && ec.CanExec() {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "exec",
			Description: "Execute a shell command against the backend's working directory.",
			Annotations: &mcp.ToolAnnotations{
				Title:           "Execute Command",
				DestructiveHint: boolPtr(true),
				IdempotentHint:  false,
				OpenWorldHint:   boolPtr(true),
			},
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecInput) (*mcp.CallToolResult, any, error) {
			out, err := handleExec(ctx, d, in)
			if err != nil {
				return nil, nil, err
			}
			return textResult(out.Text()), out, nil
		})
	}
}
