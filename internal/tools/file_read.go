package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadFileArgs are the arguments of read_file
type ReadFileArgs struct {
	Path       string `json:"path" jsonschema_description:"Path of the file, relative to the allowed directory"`
	LineNumber int    `json:"line_number,omitempty" jsonschema_description:"First line to read (1-indexed). Default: 1"`
	LineCount  int    `json:"line_count,omitempty" jsonschema_description:"Number of lines to read. Default: 200"`
}

// ReadFileResult is what read_file returns to the model
type ReadFileResult struct {
	Path      string   `json:"path"`
	Content   []string `json:"content"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	LinesRead int      `json:"total_lines_read"`
	MoreLines bool     `json:"more_lines"`
}

// FileReadTool reads text files inside one directory, with pagination
type FileReadTool struct {
	root string
}

// NewFileReadTool creates a read_file tool confined to root
func NewFileReadTool(root string) (*FileReadTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FileReadTool{root: abs}, nil
}

// Name returns the tool name
func (t *FileReadTool) Name() string {
	return "read_file"
}

// Description returns the tool description
func (t *FileReadTool) Description() string {
	return "Read a text file. By default reads the first 200 lines. Use line_number and line_count for pagination."
}

// Parameters returns the JSON schema for the tool arguments
func (t *FileReadTool) Parameters() map[string]any {
	return SchemaFor[ReadFileArgs]()
}

// Execute reads the requested lines
func (t *FileReadTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	args, err := DecodeArgs[ReadFileArgs](params)
	if err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, &ModelRetryError{Message: "path is required"}
	}
	if args.LineNumber <= 0 {
		args.LineNumber = 1
	}
	if args.LineCount <= 0 {
		args.LineCount = 200
	}

	name, err := relativeTo(t.root, args.Path)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(t.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", t.root, err)
	}
	defer root.Close()

	info, err := fs.Stat(root.FS(), name)
	if err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("cannot read %q: %v", args.Path, err)}
	}
	if info.IsDir() {
		return nil, &ModelRetryError{Message: fmt.Sprintf("%q is a directory, use list_files", args.Path)}
	}
	if isBinary(root.FS(), name) {
		return nil, &ModelRetryError{Message: fmt.Sprintf("%q is a binary file", args.Path)}
	}

	file, err := root.Open(name)
	if err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("cannot read %q: %v", args.Path, err)}
	}
	defer file.Close()

	result := ReadFileResult{Path: name, StartLine: args.LineNumber, Content: []string{}}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line++
		if line < args.LineNumber {
			continue
		}
		if len(result.Content) == args.LineCount {
			result.MoreLines = true
			break
		}
		result.Content = append(result.Content, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}

	result.LinesRead = len(result.Content)
	result.EndLine = args.LineNumber + result.LinesRead - 1
	return result, nil
}
