// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact parses free-form LLM output into an ordered list of
// (path, content) pairs using a prioritized set of recognizers. No
// third-party markdown parser in the pack matches this exact
// fence/path-marker priority order closely enough to ground an import;
// see DESIGN.md for the stdlib justification.
package artifact

import (
	"path"
	"regexp"
	"strings"
)

// Artifact is a single extracted (path, content) pair.
type Artifact struct {
	Path         string
	Content      string
	LanguageHint string
}

// Warning records a non-fatal issue encountered while extracting, e.g. an
// unterminated fence (PARSE) or a path escaping the workspace (POLICY).
type Warning struct {
	Kind    string // "PARSE" or "POLICY"
	Message string
}

// Result is the output of Extract.
type Result struct {
	Artifacts []Artifact
	Warnings  []Warning
	// Duplicates counts artifacts whose normalized path collided with an
	// earlier one and were dropped (first occurrence wins).
	Duplicates int
}

var (
	explicitPathMarker = regexp.MustCompile(`(?m)^(?:File|Path|FILE):\s*(\S+)\s*$`)
	fenceOpen          = regexp.MustCompile(`(?m)^` + "```" + `([^\n` + "`" + `]*)\n`)
	fenceCloseLine     = "```"
	pathWithExt        = regexp.MustCompile(`(\S+\.\S+)\s*$`)
	saveAsDirective    = regexp.MustCompile(`(?i)save\s+(?:as|the following (?:file|code) as)\s+(\S+)\s*$`)
	shebangLine        = regexp.MustCompile(`^#!\S+`)
	filenameComment    = regexp.MustCompile(`^(?:#|//)\s*(?:filename:|path:)?\s*(\S+\.\S+)\s*$`)
)

// fence is one parsed fenced code block.
type fence struct {
	tag          string
	content      string
	start, end   int // byte offsets of the whole fence (including markers) in the source
	contentStart int
	terminated   bool
}

// Extract parses s into an ordered list of Artifacts, applying the four
// recognizers in priority order over non-overlapping fenced blocks.
func Extract(s string) Result {
	fences := findFences(s)

	var result Result
	seen := make(map[string]bool)

	for _, f := range fences {
		if !f.terminated {
			result.Warnings = append(result.Warnings, Warning{Kind: "PARSE", Message: "unterminated fence"})
			continue
		}

		p, ok := resolvePath(s, f)
		if !ok {
			continue
		}

		normalized, ok := normalizePath(p)
		if !ok {
			result.Warnings = append(result.Warnings, Warning{Kind: "POLICY", Message: "path escapes workspace: " + p})
			continue
		}

		if seen[normalized] {
			result.Duplicates++
			continue
		}
		seen[normalized] = true

		result.Artifacts = append(result.Artifacts, Artifact{
			Path:         normalized,
			Content:      f.content,
			LanguageHint: languageHint(f.tag),
		})
	}

	return result
}

// findFences scans s for every ```-delimited block, recording whether it
// terminated on a line that is exactly three backticks.
func findFences(s string) []fence {
	var fences []fence
	offset := 0
	for {
		loc := fenceOpen.FindStringSubmatchIndex(s[offset:])
		if loc == nil {
			break
		}
		tagStart, tagEnd := loc[2]+offset, loc[3]+offset
		contentStart := loc[1] + offset
		tag := strings.TrimSpace(s[tagStart:tagEnd])

		closeIdx := findClosingFence(s, contentStart)
		if closeIdx < 0 {
			fences = append(fences, fence{tag: tag, start: offset + loc[0], contentStart: contentStart, terminated: false})
			offset = contentStart
			continue
		}

		content := s[contentStart:closeIdx]
		fences = append(fences, fence{
			tag:          tag,
			content:      content,
			start:        offset + loc[0],
			contentStart: contentStart,
			end:          closeIdx + len(fenceCloseLine),
			terminated:   true,
		})
		offset = closeIdx + len(fenceCloseLine)
	}
	return fences
}

// findClosingFence finds the byte offset of a line that is exactly three
// backticks, starting the search at from. Returns -1 if none found.
func findClosingFence(s string, from int) int {
	lines := strings.Split(s[from:], "\n")
	pos := from
	for i, line := range lines {
		if line == fenceCloseLine {
			return pos
		}
		pos += len(line)
		if i < len(lines)-1 {
			pos++ // the newline split removed
		}
	}
	return -1
}

// resolvePath applies the four recognizers, in priority order, to
// determine a fence's target path.
func resolvePath(s string, f fence) (string, bool) {
	// 1. Explicit path marker preceding the fence.
	if p, ok := explicitPathBefore(s, f.start); ok {
		return p, true
	}

	// 2. Path on the tag line itself.
	if p, ok := pathFromTag(f.tag); ok {
		return p, true
	}

	// 3. Conventional first-line marker inside the content.
	if p, ok := pathFromFirstLine(f.content); ok {
		return p, true
	}

	// 4. "save as <path>" directive preceding the fence.
	if p, ok := saveAsBefore(s, f.start); ok {
		return p, true
	}

	return "", false
}

func explicitPathBefore(s string, fenceStart int) (string, bool) {
	preceding := s[:fenceStart]
	matches := explicitPathMarker.FindAllStringSubmatch(preceding, -1)
	if len(matches) == 0 {
		return "", false
	}
	// Only honor the marker if nothing but blank lines separate it from
	// the fence.
	last := matches[len(matches)-1]
	idx := strings.LastIndex(preceding, last[0])
	between := preceding[idx+len(last[0]):]
	if strings.TrimSpace(between) != "" {
		return "", false
	}
	return last[1], true
}

func pathFromTag(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	m := pathWithExt.FindStringSubmatch(tag)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func pathFromFirstLine(content string) (string, bool) {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return "", false
	}
	first := strings.TrimSpace(lines[0])
	if shebangLine.MatchString(first) {
		return "", false // shebang marks a script but names no path
	}
	if m := filenameComment.FindStringSubmatch(first); m != nil {
		return m[1], true
	}
	return "", false
}

func saveAsBefore(s string, fenceStart int) (string, bool) {
	preceding := strings.TrimRight(s[:fenceStart], "\n")
	lines := strings.Split(preceding, "\n")
	if len(lines) == 0 {
		return "", false
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	m := saveAsDirective.FindStringSubmatch(last)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func languageHint(tag string) string {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return ""
	}
	if pathWithExt.MatchString(fields[0]) {
		// The tag's first field is itself a path, not a language.
		if len(fields) > 1 {
			return ""
		}
		return ""
	}
	return fields[0]
}

// normalizePath applies the path-safety policy: forward slashes, no
// leading slash, no ".." segments, and rejects escapes from the
// workspace root.
func normalizePath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		return "", false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if strings.HasPrefix(cleaned, "/") {
		return "", false
	}
	return cleaned, true
}
