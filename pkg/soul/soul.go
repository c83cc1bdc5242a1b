// Package soul resolves the assistant's persona/system-prompt Markdown
// document, per spec §3. Grounded on the teacher's agent-config persona
// resolution (cfg.ResolveAgent / ResolveDisplayName in internal/config).
package soul

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Source identifies where a resolved Soul came from, recorded in the
// Context Assembler's log line (spec §4.7: "soulSource, soulPath, soulChars").
type Source string

const (
	SourceWorkspace Source = "workspace"
	SourceGlobal    Source = "global"
	SourceNone      Source = "none"
)

// Soul is a resolved persona document.
type Soul struct {
	Source  Source
	Path    string
	Content string
}

// activeSelection is the contents of `~/.config/msgcode/souls/active.json`.
type activeSelection struct {
	Active string `json:"active"`
}

// Resolve implements spec §3's resolution order: (1) `<ws>/.msgcode/SOUL.md`;
// (2) `~/.config/msgcode/souls/<active>.md`; (3) none.
func Resolve(workspacePath, globalSoulsDir string) (Soul, error) {
	wsPath := filepath.Join(workspacePath, ".msgcode", "SOUL.md")
	if data, err := os.ReadFile(wsPath); err == nil {
		return Soul{Source: SourceWorkspace, Path: wsPath, Content: string(data)}, nil
	} else if !os.IsNotExist(err) {
		return Soul{}, fmt.Errorf("read workspace soul: %w", err)
	}

	active, err := ActiveSoul(globalSoulsDir)
	if err == nil && active != "" {
		globalPath := filepath.Join(globalSoulsDir, active+".md")
		if data, err := os.ReadFile(globalPath); err == nil {
			return Soul{Source: SourceGlobal, Path: globalPath, Content: string(data)}, nil
		}
	}

	return Soul{Source: SourceNone}, nil
}

// ActiveSoul reads the global souls directory's active.json selection.
func ActiveSoul(globalSoulsDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(globalSoulsDir, "active.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var sel activeSelection
	if err := json.Unmarshal(data, &sel); err != nil {
		return "", err
	}
	return sel.Active, nil
}

// ListSouls enumerates the global souls directory's *.md files.
func ListSouls(globalSoulsDir string) ([]string, error) {
	entries, err := os.ReadDir(globalSoulsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".md" {
			names = append(names, name[:len(name)-len(".md")])
		}
	}
	return names, nil
}

// SetActiveSoul writes the global souls directory's active.json selection.
func SetActiveSoul(globalSoulsDir, name string) error {
	if err := os.MkdirAll(globalSoulsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(activeSelection{Active: name}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(globalSoulsDir, "active.json"), data, 0o644)
}
