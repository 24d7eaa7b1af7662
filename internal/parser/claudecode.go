package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sqrlhq/sqrl/pkg/types"
)

// ClaudeCodeParser reads Claude Code session logs from
// <claudeDir>/projects/<project-hash>/*.jsonl.
type ClaudeCodeParser struct {
	claudeDir string
}

// NewClaudeCodeParser creates a parser rooted at claudeDir. An empty claudeDir
// defaults to ~/.claude.
func NewClaudeCodeParser(claudeDir string) *ClaudeCodeParser {
	if claudeDir == "" {
		home, _ := os.UserHomeDir()
		claudeDir = filepath.Join(home, ".claude")
	}
	return &ClaudeCodeParser{claudeDir: claudeDir}
}

// projectHash converts a project path to Claude Code's directory name format:
// path separators replaced by dashes, prefixed with a dash.
func (p *ClaudeCodeParser) projectHash(projectRoot string) string {
	return "-" + strings.TrimLeft(strings.ReplaceAll(projectRoot, "/", "-"), "-")
}

// GetSessions returns session files oldest first by modification time.
// Files named agent-* are sub-conversations and are skipped.
func (p *ClaudeCodeParser) GetSessions(projectRoot string) ([]string, error) {
	projectsDir := filepath.Join(p.claudeDir, "projects")
	if _, err := os.Stat(projectsDir); err != nil {
		return nil, nil
	}

	var dirs []string
	if projectRoot != "" {
		dir := filepath.Join(projectsDir, p.projectHash(projectRoot))
		if _, err := os.Stat(dir); err != nil {
			return nil, nil
		}
		dirs = []string{dir}
	} else {
		entries, err := os.ReadDir(projectsDir)
		if err != nil {
			return nil, fmt.Errorf("parser: failed to read %s: %w", projectsDir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(projectsDir, e.Name()))
			}
		}
	}

	type sessionFile struct {
		path  string
		mtime time.Time
	}
	var sessions []sessionFile
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, "agent-") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			sessions = append(sessions, sessionFile{filepath.Join(dir, name), info.ModTime()})
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].mtime.Before(sessions[j].mtime) })

	paths := make([]string, len(sessions))
	for i, s := range sessions {
		paths[i] = s.path
	}
	return paths, nil
}

// logEntry is one line of a Claude Code JSONL session log.
type logEntry struct {
	Type      string     `json:"type"`
	Timestamp string     `json:"timestamp"`
	Message   logMessage `json:"message"`
}

type logMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a message's content array.
type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   map[string]any  `json:"input"`
	Content json.RawMessage `json:"content"`
}

// ParseSession parses one session file into a single episode covering all of
// its events. Malformed lines are skipped; an unreadable or empty session
// yields no episodes.
func (p *ClaudeCodeParser) ParseSession(sessionPath string) ([]types.Episode, error) {
	f, err := os.Open(sessionPath)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	sessionID := strings.TrimSuffix(filepath.Base(sessionPath), ".jsonl")
	projectID := filepath.Base(filepath.Dir(sessionPath))

	var events []types.Event
	maxFrustration := types.FrustrationNone
	errorCount := 0

	scanner := bufio.NewScanner(f)
	// Session lines can carry large tool results.
	const maxLine = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Type != "user" && entry.Type != "assistant" && entry.Type != "system" {
			continue
		}
		if entry.Timestamp == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil {
			continue
		}

		blocks := normalizeContent(entry.Message.Content)
		if len(blocks) == 0 {
			continue
		}

		role := types.Role(entry.Message.Role)
		switch role {
		case types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleSystem:
		default:
			if r := types.Role(entry.Type); r == types.RoleUser || r == types.RoleSystem {
				role = r
			} else {
				role = types.RoleAssistant
			}
		}

		kind := types.KindMessage
		for _, b := range blocks {
			if b.Type == "tool_use" {
				kind = types.KindToolCall
				break
			}
		}
		if kind == types.KindMessage {
			for _, b := range blocks {
				if b.Type == "tool_result" {
					kind = types.KindToolResult
					break
				}
			}
		}

		summary, toolName, filePath := summarizeContent(blocks)

		isError := false
		if kind == types.KindToolResult {
			for _, b := range blocks {
				if b.Type == "tool_result" && IsErrorResult(resultText(b.Content)) {
					isError = true
					errorCount++
					break
				}
			}
		}

		if role == types.RoleUser && kind == types.KindMessage {
			for _, b := range blocks {
				if b.Type == "text" {
					if f := DetectFrustration(b.Text); f.Exceeds(maxFrustration) {
						maxFrustration = f
					}
				}
			}
		}

		events = append(events, types.Event{
			TS:       ts,
			Role:     role,
			Kind:     kind,
			Summary:  Truncate(summary, MaxSnippetLength),
			ToolName: toolName,
			File:     filePath,
			IsError:  isError,
		})
	}

	if err := scanner.Err(); err != nil {
		// A line over the buffer limit stops the scan; keep what we have but
		// surface the partial read.
		log.Printf("parser: stopped reading %s early: %v", sessionPath, err)
	}

	if len(events) == 0 {
		return nil, nil
	}

	episode := types.Episode{
		SessionID: sessionID,
		ProjectID: projectID,
		StartTS:   events[0].TS,
		EndTS:     events[len(events)-1].TS,
		Events:    events,
		Stats: types.EpisodeStats{
			ErrorCount:      errorCount,
			UserFrustration: maxFrustration,
		},
	}
	return []types.Episode{episode}, nil
}

// normalizeContent turns a message content field (string or block array) into
// a block slice. Anything else is ignored.
func normalizeContent(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []contentBlock{{Type: "text", Text: s}}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// summarizeContent builds a single summary string from content blocks and
// extracts the tool name and file path when present.
func summarizeContent(blocks []contentBlock) (summary, toolName, filePath string) {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, Truncate(b.Text, 100))
		case "tool_use":
			toolName = b.Name
			if fp, ok := b.Input["file_path"].(string); ok {
				filePath = fp
			} else if fp, ok := b.Input["path"].(string); ok {
				filePath = fp
			}
			parts = append(parts, "["+b.Name+"]")
		case "tool_result":
			if text := resultText(b.Content); text != "" {
				parts = append(parts, Truncate(text, 50))
			}
		}
	}
	summary = strings.Join(parts, " ")
	if summary == "" {
		summary = "(empty)"
	}
	return summary, toolName, filePath
}

// resultText extracts the textual payload of a tool_result content field,
// which may be a plain string or a nested block array.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var parts []string
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}
