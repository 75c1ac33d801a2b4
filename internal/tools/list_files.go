package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// MaxFilesToList is the maximum number of files to return
const MaxFilesToList = 500

// ListFilesArgs are the arguments of list_files
type ListFilesArgs struct {
	Directory string `json:"directory,omitempty" jsonschema_description:"Directory to list, relative to the allowed directory. Default: the allowed directory itself"`
}

// ListFilesResult is what list_files returns to the model
type ListFilesResult struct {
	Directory string   `json:"directory"`
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated,omitempty"`
}

// ListFilesTool lists files below a directory, skipping ignored and binary
// files
type ListFilesTool struct {
	root string
}

// NewListFilesTool creates a list_files tool confined to root
func NewListFilesTool(root string) (*ListFilesTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &ListFilesTool{root: abs}, nil
}

// Name returns the tool name
func (t *ListFilesTool) Name() string {
	return "list_files"
}

// Description returns the tool description
func (t *ListFilesTool) Description() string {
	return fmt.Sprintf("List text files in a directory recursively. Skips binary files, dependencies and files matching .gitignore. Returns up to %d files.", MaxFilesToList)
}

// Parameters returns the JSON schema for the tool arguments
func (t *ListFilesTool) Parameters() map[string]any {
	return SchemaFor[ListFilesArgs]()
}

// Execute walks the directory
func (t *ListFilesTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	args, err := DecodeArgs[ListFilesArgs](params)
	if err != nil {
		return nil, err
	}
	dir, err := relativeTo(t.root, args.Directory)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(t.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", t.root, err)
	}
	defer root.Close()
	fsys := root.FS()

	info, err := fs.Stat(fsys, dir)
	if err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("directory %q does not exist", args.Directory)}
	}
	if !info.IsDir() {
		return nil, &ModelRetryError{Message: fmt.Sprintf("%q is a file, use read_file", args.Directory)}
	}

	patterns := loadIgnorePatterns(fsys)
	result := ListFilesResult{Directory: dir, Files: []string{}}

	err = fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p != dir && ShouldIgnore(p, patterns) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || isBinary(fsys, p) {
			return nil
		}
		if len(result.Files) == MaxFilesToList {
			result.Truncated = true
			return fs.SkipAll
		}
		result.Files = append(result.Files, path.Clean(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
