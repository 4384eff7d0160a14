// Package chunk parses unified diffs and splits changed code into
// bounded, logically coherent blocks for retrieval and rule evaluation.
package chunk

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Default chunking bounds. Blocks are aligned to blank-line boundaries
// rather than fixed byte windows to preserve semantic coherence.
const (
	DefaultMaxBlockLines = 40
	DefaultMinBlockLines = 3
)

// AddedLine is one line added by the diff, with its post-image position.
type AddedLine struct {
	FilePath string
	Line     int
	Text     string
}

// DiffFile is a single changed file with its parsed fragments.
type DiffFile struct {
	OldName   string
	NewName   string
	IsNew     bool
	IsDeleted bool
	IsBinary  bool
	Fragments []*gitdiff.TextFragment
}

// Name returns the display path for the file.
func (f *DiffFile) Name() string {
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// DiffSet is a parsed unified diff.
type DiffSet struct {
	Files []*DiffFile
	Raw   string
}

// Parse reads a unified diff and returns its structured form. A diff that
// cannot be parsed is not fatal to analysis; callers fall back to
// FallbackAddedLines on error.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		ds.Files = append(ds.Files, &DiffFile{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsBinary:  f.IsBinary,
			Fragments: f.TextFragments,
		})
	}
	return ds, nil
}

// FilePaths returns the post-image paths of all changed, non-deleted files.
func (ds *DiffSet) FilePaths() []string {
	paths := make([]string, 0, len(ds.Files))
	for _, f := range ds.Files {
		if f.IsDeleted {
			continue
		}
		paths = append(paths, f.Name())
	}
	return paths
}

// AddedLines returns every added line in the diff with its post-image line
// number, in file order. Deterministic for identical input.
func (ds *DiffSet) AddedLines() []AddedLine {
	var lines []AddedLine
	for _, f := range ds.Files {
		if f.IsBinary || f.IsDeleted {
			continue
		}
		name := f.Name()
		for _, frag := range f.Fragments {
			lineNum := int(frag.NewPosition)
			for _, line := range frag.Lines {
				if line.Op == gitdiff.OpAdd {
					lines = append(lines, AddedLine{
						FilePath: name,
						Line:     lineNum,
						Text:     strings.TrimSuffix(line.Line, "\n"),
					})
				}
				if line.Op == gitdiff.OpAdd || line.Op == gitdiff.OpContext {
					lineNum++
				}
			}
		}
	}
	return lines
}

// FallbackAddedLines scans a raw diff for added lines when structured
// parsing fails. Line numbers are best-effort (position within the diff).
func FallbackAddedLines(raw string) []AddedLine {
	var lines []AddedLine
	currentFile := "unknown"
	for i, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			currentFile = strings.TrimPrefix(strings.TrimPrefix(line, "+++ "), "b/")
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			lines = append(lines, AddedLine{
				FilePath: currentFile,
				Line:     i + 1,
				Text:     strings.TrimPrefix(line, "+"),
			})
		}
	}
	return lines
}

// Block is a bounded, logically grouped run of added code used as a
// retrieval query unit.
type Block struct {
	FilePath  string
	StartLine int
	EndLine   int
	Text      string
	Language  string
	Hash      string
}

// Blocks groups the diff's added lines into retrieval query blocks. Block
// boundaries prefer blank lines and never exceed maxLines; undersized
// trailing runs are merged into the previous block.
func (ds *DiffSet) Blocks(maxLines int) []Block {
	if maxLines <= 0 {
		maxLines = DefaultMaxBlockLines
	}

	var blocks []Block
	added := ds.AddedLines()

	var cur []AddedLine
	flush := func() {
		if len(cur) == 0 {
			return
		}
		blocks = append(blocks, newBlock(cur))
		cur = nil
	}

	for _, al := range added {
		boundary := false
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			// New file or a gap in line numbers always ends a block.
			if al.FilePath != prev.FilePath || al.Line != prev.Line+1 {
				boundary = true
			}
			// Blank line ends a block once it has meaningful content.
			if strings.TrimSpace(prev.Text) == "" && len(cur) >= DefaultMinBlockLines {
				boundary = true
			}
			if len(cur) >= maxLines {
				boundary = true
			}
		}
		if boundary {
			flush()
		}
		cur = append(cur, al)
	}
	flush()

	return blocks
}

func newBlock(lines []AddedLine) Block {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	text := strings.Join(texts, "\n")
	sum := sha256.Sum256([]byte(text))

	return Block{
		FilePath:  lines[0].FilePath,
		StartLine: lines[0].Line,
		EndLine:   lines[len(lines)-1].Line,
		Text:      text,
		Language:  DetectLanguage(lines[0].FilePath),
		Hash:      fmt.Sprintf("%x", sum),
	}
}

// DetectLanguage maps a file extension to a language name.
func DetectLanguage(path string) string {
	extensions := map[string]string{
		".go":   "go",
		".py":   "python",
		".js":   "javascript",
		".jsx":  "javascript",
		".ts":   "typescript",
		".tsx":  "typescript",
		".java": "java",
		".rs":   "rust",
		".rb":   "ruby",
		".c":    "c",
		".cpp":  "cpp",
		".md":   "markdown",
	}
	for ext, lang := range extensions {
		if strings.HasSuffix(path, ext) {
			return lang
		}
	}
	return "unknown"
}
