package mcpadapter

import (
	"fmt"
	"strings"

	"github.com/agentfs/workspaced/internal/backend"
)

// ReadTextFileInput is the input for the read_text_file tool.
type ReadTextFileInput struct {
	Path string `json:"path" jsonschema:"Path to the file, relative to the backend root"`
}

// ReadTextFileOutput is the output for the read_text_file tool.
type ReadTextFileOutput struct {
	Content string `json:"content"`
}

func (o ReadTextFileOutput) Text() string { return o.Content }

// WriteFileInput is the input for the write_file tool.
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"Path to the file, relative to the backend root"`
	Content string `json:"content" jsonschema:"Full file content to write"`
}

// WriteFileOutput is the output for the write_file tool.
type WriteFileOutput struct {
	Message string `json:"message"`
}

func (o WriteFileOutput) Text() string { return o.Message }

// ListDirectoryInput is the input for the list_directory tool.
type ListDirectoryInput struct {
	Path string `json:"path" jsonschema:"Directory path, relative to the backend root"`
}

// ListDirectoryOutput is the output for the list_directory tool.
type ListDirectoryOutput struct {
	Names []string `json:"names"`
}

func (o ListDirectoryOutput) Text() string {
	if len(o.Names) == 0 {
		return "(empty directory)"
	}
	return strings.Join(o.Names, "\n")
}

// DirectoryTreeInput is the input for the directory_tree tool.
type DirectoryTreeInput struct {
	Path                   string   `json:"path" jsonschema:"Directory path, relative to the backend root"`
	ExcludePatterns        []string `json:"excludePatterns,omitempty" jsonschema:"Optional. Additional name patterns to exclude (exact or *.suffix)"`
	IncludeDefaultExcludes *bool    `json:"includeDefaultExcludes,omitempty" jsonschema:"Optional. Apply the built-in exclude list (default true)"`
}

// TreeNode is one entry in a directory_tree result.
type TreeNode struct {
	Name     string     `json:"name"`
	IsDir    bool       `json:"isDir"`
	Children []TreeNode `json:"children,omitempty"`
}

// DirectoryTreeOutput is the output for the directory_tree tool.
type DirectoryTreeOutput struct {
	Root TreeNode `json:"root"`
}

func (o DirectoryTreeOutput) Text() string {
	var b strings.Builder
	writeTree(&b, o.Root, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeTree(b *strings.Builder, n TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	suffix := ""
	if n.IsDir {
		suffix = "/"
	}
	fmt.Fprintf(b, "%s%s%s\n", indent, n.Name, suffix)
	for _, c := range n.Children {
		writeTree(b, c, depth+1)
	}
}

// CreateDirectoryInput is the input for the create_directory tool.
type CreateDirectoryInput struct {
	Path      string `json:"path" jsonschema:"Directory path to create, relative to the backend root"`
	Recursive *bool  `json:"recursive,omitempty" jsonschema:"Optional. Create parent directories as needed (default true)"`
}

// CreateDirectoryOutput is the output for the create_directory tool.
type CreateDirectoryOutput struct {
	Message string `json:"message"`
}

func (o CreateDirectoryOutput) Text() string { return o.Message }

// MoveFileInput is the input for the move_file tool.
type MoveFileInput struct {
	Src string `json:"src" jsonschema:"Current path"`
	Dst string `json:"dst" jsonschema:"Destination path"`
}

// MoveFileOutput is the output for the move_file tool.
type MoveFileOutput struct {
	Message string `json:"message"`
}

func (o MoveFileOutput) Text() string { return o.Message }

// SearchFilesInput is the input for the search_files tool.
type SearchFilesInput struct {
	Path    string `json:"path" jsonschema:"Directory to search under, relative to the backend root"`
	Pattern string `json:"pattern" jsonschema:"Substring matched against entry names (no glob syntax)"`
}

// SearchFilesOutput is the output for the search_files tool.
type SearchFilesOutput struct {
	Matches []string `json:"matches"`
}

func (o SearchFilesOutput) Text() string {
	if len(o.Matches) == 0 {
		return "No matches"
	}
	return strings.Join(o.Matches, "\n")
}

// GetFileInfoInput is the input for the get_file_info tool.
type GetFileInfoInput struct {
	Path string `json:"path" jsonschema:"Path to stat, relative to the backend root"`
}

// GetFileInfoOutput is the output for the get_file_info tool.
type GetFileInfoOutput struct {
	Size    int64  `json:"size"`
	Mode    uint32 `json:"mode"`
	IsDir   bool   `json:"isDir"`
	ModTime string `json:"modTime"`
}

func (o GetFileInfoOutput) Text() string {
	kind := "file"
	if o.IsDir {
		kind = "directory"
	}
	return fmt.Sprintf("%s, size %d, mode %o, modified %s", kind, o.Size, o.Mode, o.ModTime)
}

func fileInfoFromStat(s backend.Stat) GetFileInfoOutput {
	return GetFileInfoOutput{
		Size:    s.Size,
		Mode:    s.Mode,
		IsDir:   s.IsDir,
		ModTime: s.ModTime.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ExecInput is the input for the exec tool.
type ExecInput struct {
	Command string `json:"command" jsonschema:"Shell command to run against the backend's working directory"`
}

// ExecOutput is the output for the exec tool.
type ExecOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func (o ExecOutput) Text() string {
	var b strings.Builder
	if o.Stdout != "" {
		b.WriteString(o.Stdout)
	}
	if o.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr] ")
		b.WriteString(o.Stderr)
	}
	if o.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Exit code: %d", o.ExitCode)
	}
	if b.Len() == 0 {
		b.WriteString("(no output)")
	}
	return b.String()
}
