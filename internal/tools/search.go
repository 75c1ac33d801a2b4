package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SearchFilesArgs are the arguments of search_files
type SearchFilesArgs struct {
	Pattern    string   `json:"pattern" jsonschema_description:"Exact text to search for (case-sensitive)"`
	Path       string   `json:"path,omitempty" jsonschema_description:"Directory to limit the search to, relative to the allowed directory"`
	Extensions []string `json:"extensions,omitempty" jsonschema_description:"File extensions to include, e.g. .md"`
}

// SearchFilesResult is what search_files returns to the model
type SearchFilesResult struct {
	MatchesCount int      `json:"matches_count"`
	Results      []string `json:"results"`
	Warning      string   `json:"warning,omitempty"`
}

// SearchFilesTool finds lines containing a string in the text files below a
// directory
type SearchFilesTool struct {
	root string
}

// NewSearchFilesTool creates a search_files tool confined to root
func NewSearchFilesTool(root string) (*SearchFilesTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &SearchFilesTool{root: abs}, nil
}

func (t *SearchFilesTool) Name() string {
	return "search_files"
}

func (t *SearchFilesTool) Description() string {
	return "Search for an exact string in text files. Returns matching lines as path:line: text."
}

func (t *SearchFilesTool) Parameters() map[string]any {
	return SchemaFor[SearchFilesArgs]()
}

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	args, err := DecodeArgs[SearchFilesArgs](params)
	if err != nil {
		return nil, err
	}
	if args.Pattern == "" {
		return nil, &ModelRetryError{Message: "pattern is required and must be a non-empty string"}
	}
	dir, err := relativeTo(t.root, args.Path)
	if err != nil {
		return nil, err
	}

	var allowedExts map[string]bool
	if len(args.Extensions) > 0 {
		allowedExts = make(map[string]bool, len(args.Extensions))
		for _, ext := range args.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			allowedExts[ext] = true
		}
	}

	root, err := os.OpenRoot(t.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", t.root, err)
	}
	defer root.Close()
	fsys := root.FS()

	if _, err := fs.Stat(fsys, dir); err != nil {
		return nil, &ModelRetryError{Message: fmt.Sprintf("path %q does not exist", args.Path)}
	}

	patterns := loadIgnorePatterns(fsys)
	result := SearchFilesResult{Results: []string{}}
	totalBytes := 0

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
		if d.IsDir() {
			return nil
		}
		if allowedExts != nil && !allowedExts[path.Ext(p)] {
			return nil
		}
		if isBinary(fsys, p) {
			return nil
		}

		matches, err := searchInFile(fsys, p, args.Pattern)
		if err != nil {
			return nil
		}
		for _, m := range matches {
			if totalBytes+len(m) > MaxToolResponseSize {
				result.Warning = "Output truncated due to size limit. Try a more specific path or pattern."
				return fs.SkipAll
			}
			result.Results = append(result.Results, m)
			totalBytes += len(m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.MatchesCount = len(result.Results)
	return result, nil
}

func searchInFile(fsys fs.FS, name, pattern string) ([]string, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !strings.Contains(line, pattern) {
			continue
		}
		if len(line) > 300 {
			line = line[:300] + "..."
		}
		matches = append(matches, fmt.Sprintf("%s:%d: %s", name, lineNum, strings.TrimSpace(line)))
	}
	return matches, scanner.Err()
}
