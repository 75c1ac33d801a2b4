package tools

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// MaxToolResponseSize is the maximum size of a tool response in bytes
const MaxToolResponseSize = 50000 // ~50KB

// DefaultIgnorePatterns are skipped by the listing and search tools
var DefaultIgnorePatterns = []string{
	// Version control
	".git",
	".svn",
	".hg",

	// Dependencies
	"node_modules",
	"vendor",
	".venv",
	"venv",
	"__pycache__",

	// Build outputs
	"dist",
	"build",
	"target",

	// Editor state
	".idea",
	".vscode",
	"*.swp",
	"*~",

	// Temp files
	"*.log",
	"*.tmp",
	".DS_Store",
}

// BinaryExtensions are file extensions that indicate binary files
var BinaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true, ".a": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".heic": true, ".webp": true,
	".mp3": true, ".mp4": true, ".mov": true, ".wav": true, ".m4a": true, ".aac": true,
	".zip": true, ".tar": true, ".gz": true, ".7z": true, ".dmg": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".woff": true, ".woff2": true, ".ttf": true,
	".db": true, ".sqlite": true, ".wasm": true,
}

// isBinary checks the extension of name and then the first bytes of the file
func isBinary(fsys fs.FS, name string) bool {
	if BinaryExtensions[strings.ToLower(path.Ext(name))] {
		return true
	}

	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if n == 0 || (err != nil && err != io.ErrUnexpectedEOF) {
		return false
	}
	return looksBinary(buf[:n])
}

// looksBinary reports whether data has more than 10% NUL bytes or 30%
// control characters
func looksBinary(data []byte) bool {
	nulls, control := 0, 0
	for _, b := range data {
		if b == 0 {
			nulls++
		}
		if b != '\t' && b != '\n' && b != '\r' && b < 32 {
			control++
		}
	}
	return nulls > len(data)/10 || control > len(data)*3/10
}

// TruncateString cuts s to maxLen bytes and appends a notice
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("\n\n[TRUNCATED - response exceeded %s]", formatBytes(maxLen))
}

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

// loadIgnorePatterns combines the defaults with the .gitignore at the root
// of fsys
func loadIgnorePatterns(fsys fs.FS) []string {
	patterns := append([]string(nil), DefaultIgnorePatterns...)

	content, err := fs.ReadFile(fsys, ".gitignore")
	if err != nil {
		return patterns
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.Trim(line, "/"))
	}
	return patterns
}

// ShouldIgnore reports whether the slash-separated path p matches any pattern,
// either as a whole or through one of its components
func ShouldIgnore(p string, patterns []string) bool {
	parts := strings.Split(p, "/")
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if matchPattern(p, pattern) {
			return true
		}
		for _, part := range parts {
			if matchPattern(part, pattern) {
				return true
			}
		}
	}
	return false
}

func matchPattern(name, pattern string) bool {
	if strings.Contains(pattern, "**") {
		prefix, suffix, _ := strings.Cut(pattern, "**")
		prefix = strings.TrimSuffix(prefix, "/")
		suffix = strings.TrimPrefix(suffix, "/")
		return strings.HasPrefix(name, prefix) && (suffix == "" || matchPattern(path.Base(name), suffix))
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// relativeTo turns p into a slash-separated path relative to root. Absolute
// paths must lie inside root.
func relativeTo(root, p string) (string, error) {
	if p == "" || p == "." {
		return ".", nil
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", &ModelRetryError{Message: fmt.Sprintf("path %q is outside the allowed directory", p)}
		}
		p = rel
	}
	clean := path.Clean(filepath.ToSlash(p))
	if !fs.ValidPath(clean) {
		return "", &ModelRetryError{Message: fmt.Sprintf("path %q is outside the allowed directory", p)}
	}
	return clean, nil
}
