// Package prompt renders the repair instructions sent to the model.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects how much of the project the model sees and how it must answer.
type Mode string

const (
	ModeSingleFile Mode = "single_file"
	ModeMultiFile  Mode = "multi_file"
)

// File is one source file shown to the model.
type File struct {
	Path    string
	Content string
}

// Context is the failure evidence for one repair attempt.
type Context struct {
	Language       string
	EntryFile      string
	Files          []File
	Stdout         string
	Stderr         string
	ExitCode       int
	ExpectedOutput *string
}

const noExpectedOutput = "(none: any successful exit is accepted)"

// Build renders the prompt for mode. The output depends only on its inputs.
func Build(mode Mode, c Context) string {
	files := make([]File, len(c.Files))
	copy(files, c.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if mode == ModeMultiFile {
		return buildMulti(c, files)
	}
	return buildSingle(c, files)
}

func buildSingle(c Context, files []File) string {
	var src string
	for _, f := range files {
		if f.Path == c.EntryFile {
			src = f.Content
			break
		}
	}
	if src == "" && len(files) == 1 {
		src = files[0].Content
	}

	var b strings.Builder
	b.WriteString("You are a code auto-repair tool.\n\n")
	b.WriteString("RULES:\n")
	fmt.Fprintf(&b, "- You MUST return only valid %s code.\n", c.Language)
	b.WriteString("- NO explanations.\n")
	b.WriteString("- NO comments.\n")
	b.WriteString("- NO markdown.\n")
	b.WriteString("- NO backticks.\n")
	b.WriteString("- NO extra text before or after the code.\n")
	b.WriteString("- NO additional imports or files.\n")
	b.WriteString("- NO modifying functionality unless needed.\n")
	b.WriteString("- ONLY fix the error shown in STDERR or EXIT CODE.\n")
	b.WriteString("- KEEP THE ORIGINAL STRUCTURE unless strictly necessary.\n\n")
	fmt.Fprintf(&b, "INPUT FILE NAME: %s\n\n", c.EntryFile)
	fmt.Fprintf(&b, "CURRENT CODE:\n%s\n\n", src)
	writeEvidence(&b, c)
	b.WriteString("RETURN ONLY THE FULL FIXED CODE BELOW NOTHING ELSE:\n")
	return b.String()
}

func buildMulti(c Context, files []File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a code auto-repair tool for a multi-file %s project.\n\n", c.Language)
	b.WriteString("RULES:\n")
	b.WriteString("- Respond with a single JSON object and nothing else.\n")
	b.WriteString("- Each key is a file path relative to the project root, exactly as listed below.\n")
	b.WriteString("- Each value is the NEW FULL CONTENT of that file as a JSON string.\n")
	b.WriteString("- Include only files you changed.\n")
	b.WriteString("- Preserve existing imports, package declarations and function signatures.\n")
	b.WriteString("- Make the smallest change that fixes the error shown in STDERR or EXIT CODE.\n")
	b.WriteString("- NO explanations, NO markdown, NO backticks.\n\n")
	fmt.Fprintf(&b, "ENTRY FILE: %s\n\n", c.EntryFile)
	b.WriteString("PROJECT FILES:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "FILE: %s\n%s\nEND FILE: %s\n\n", f.Path, f.Content, f.Path)
	}
	writeEvidence(&b, c)
	b.WriteString("RESPONSE FORMAT:\n")
	b.WriteString(`{"path/to/file": "new full content"}` + "\n")
	return b.String()
}

func writeEvidence(b *strings.Builder, c Context) {
	if c.Stdout != "" {
		fmt.Fprintf(b, "STDOUT:\n%s\n\n", c.Stdout)
	}
	fmt.Fprintf(b, "STDERR:\n%s\n\n", c.Stderr)
	fmt.Fprintf(b, "EXIT CODE:\n%d\n\n", c.ExitCode)
	expected := noExpectedOutput
	if c.ExpectedOutput != nil {
		expected = *c.ExpectedOutput
	}
	fmt.Fprintf(b, "EXPECTED OUTPUT:\n%s\n\n", expected)
}
