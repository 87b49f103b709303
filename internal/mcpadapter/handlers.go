package mcpadapter

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/agentfs/workspaced/internal/backend"
)

// Deps holds the backend a tool table is registered against.
type Deps struct {
	Backend backend.Backend
}

func handleReadTextFile(ctx context.Context, d *Deps, in ReadTextFileInput) (ReadTextFileOutput, error) {
	data, err := d.Backend.Read(ctx, in.Path)
	if err != nil {
		return ReadTextFileOutput{}, err
	}
	return ReadTextFileOutput{Content: string(data)}, nil
}

func handleWriteFile(ctx context.Context, d *Deps, in WriteFileInput) (WriteFileOutput, error) {
	if dir := path.Dir(in.Path); dir != "." && dir != "/" {
		if err := d.Backend.Mkdir(ctx, dir, true); err != nil {
			return WriteFileOutput{}, err
		}
	}
	if err := d.Backend.Write(ctx, in.Path, []byte(in.Content)); err != nil {
		return WriteFileOutput{}, err
	}
	return WriteFileOutput{Message: "wrote " + in.Path}, nil
}

func handleListDirectory(ctx context.Context, d *Deps, in ListDirectoryInput) (ListDirectoryOutput, error) {
	names, err := d.Backend.Readdir(ctx, in.Path)
	if err != nil {
		return ListDirectoryOutput{}, err
	}
	return ListDirectoryOutput{Names: names}, nil
}

func handleDirectoryTree(ctx context.Context, d *Deps, in DirectoryTreeInput) (DirectoryTreeOutput, error) {
	excludes := append([]string{}, in.ExcludePatterns...)
	if in.IncludeDefaultExcludes == nil || *in.IncludeDefaultExcludes {
		excludes = append(excludes, defaultExcludes...)
	}

	root, err := buildTree(ctx, d.Backend, in.Path, path.Base(strings.TrimSuffix(in.Path, "/")), excludes)
	if err != nil {
		return DirectoryTreeOutput{}, err
	}
	if root.Name == "" || root.Name == "." {
		root.Name = "."
	}
	return DirectoryTreeOutput{Root: *root}, nil
}

func buildTree(ctx context.Context, b backend.Backend, dirPath, name string, excludes []string) (*TreeNode, error) {
	entries, err := b.ReaddirWithStats(ctx, dirPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	node := &TreeNode{Name: name, IsDir: true}
	for _, e := range entries {
		if isExcluded(e.Name, excludes) {
			continue
		}
		if e.Stat.IsDir {
			child, err := buildTree(ctx, b, path.Join(dirPath, e.Name), e.Name, excludes)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, *child)
		} else {
			node.Children = append(node.Children, TreeNode{Name: e.Name})
		}
	}
	return node, nil
}

func handleCreateDirectory(ctx context.Context, d *Deps, in CreateDirectoryInput) (CreateDirectoryOutput, error) {
	recursive := in.Recursive == nil || *in.Recursive
	if err := d.Backend.Mkdir(ctx, in.Path, recursive); err != nil {
		return CreateDirectoryOutput{}, err
	}
	return CreateDirectoryOutput{Message: "created " + in.Path}, nil
}

func handleMoveFile(ctx context.Context, d *Deps, in MoveFileInput) (MoveFileOutput, error) {
	if err := d.Backend.Rename(ctx, in.Src, in.Dst); err != nil {
		return MoveFileOutput{}, err
	}
	return MoveFileOutput{Message: in.Src + " -> " + in.Dst}, nil
}

func handleSearchFiles(ctx context.Context, d *Deps, in SearchFilesInput) (SearchFilesOutput, error) {
	var matches []string
	var walk func(dirPath string) error
	walk = func(dirPath string) error {
		entries, err := d.Backend.ReaddirWithStats(ctx, dirPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := path.Join(dirPath, e.Name)
			if strings.Contains(e.Name, in.Pattern) {
				matches = append(matches, full)
			}
			if e.Stat.IsDir {
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(in.Path); err != nil {
		return SearchFilesOutput{}, err
	}
	sort.Strings(matches)
	return SearchFilesOutput{Matches: matches}, nil
}

func handleGetFileInfo(ctx context.Context, d *Deps, in GetFileInfoInput) (GetFileInfoOutput, error) {
	stat, err := d.Backend.Stat(ctx, in.Path)
	if err != nil {
		return GetFileInfoOutput{}, err
	}
	return fileInfoFromStat(stat), nil
}

func handleExec(ctx context.Context, d *Deps, in ExecInput) (ExecOutput, error) {
	result, err := d.Backend.Exec(ctx, in.Command, backend.ExecOptions{})
	if err != nil {
		return ExecOutput{}, err
	}
	return ExecOutput{Stdout: result.Stdout, Stderr: result.Stderr, ExitCode: result.ExitCode}, nil
}
