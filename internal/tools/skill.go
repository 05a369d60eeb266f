package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const skillFilename = "SKILL.md"

// skillFrontmatter is the YAML header of a SKILL.md file. Grounded on
// internal/skills/types.go's SkillEntry/SkillMetadata/SkillRequires,
// flattened into the fields skill_read actually needs: name, description,
// and the requirement gates.
type skillFrontmatter struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Requires    *skillRequire `yaml:"requires"`
}

type skillRequire struct {
	OS  []string `yaml:"os"`
	Env []string `yaml:"env"`
	Bin []string `yaml:"bins"`
}

type discoveredSkill struct {
	frontmatter skillFrontmatter
	body        string
	dir         string
	userDir     bool // true if discovered under the user directory (wins over workspace on name conflict)
}

// SkillReadTool implements skill_read: returns the full body of a named
// SKILL.md, discovered from a user directory and a workspace directory
// with user-wins dedup, gated on the skill's declared requirements.
// Grounded on internal/skills/discovery.go's LocalSource.Discover and
// internal/skills/gating.go's CheckEligibility, reduced from the
// teacher's multi-source/config-override gating to the spec's simpler
// OS/env/PATH-binary checks with no config layer.
type SkillReadTool struct {
	userDir      string
	workspaceDir string
}

// NewSkillReadTool builds a SkillReadTool scanning userDir and
// filepath.Join(workspaceDir, "skills") for subdirectories containing a
// SKILL.md.
func NewSkillReadTool(userDir, workspaceDir string) *SkillReadTool {
	return &SkillReadTool{userDir: userDir, workspaceDir: filepath.Join(workspaceDir, "skills")}
}

func (t *SkillReadTool) Name() string        { return "skill_read" }
func (t *SkillReadTool) Description() string { return "Read the full content of a named skill." }

func (t *SkillReadTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"name": map[string]any{"type": "string", "description": "Skill name, as a discoverable SKILL.md directory."},
	}, "name")
}

func (t *SkillReadTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if in.Name == "" {
		return toolError("name is required")
	}

	skills, err := t.discover()
	if err != nil {
		return toolError(fmt.Sprintf("discover skills: %v", err))
	}
	skill, ok := skills[in.Name]
	if !ok {
		return toolError(fmt.Sprintf("no skill named %q", in.Name))
	}

	if reason, eligible := checkEligibility(skill.frontmatter.Requires); !eligible {
		return toolError(fmt.Sprintf("skill %q is not eligible: %s", in.Name, reason))
	}

	return encodeResult(map[string]any{
		"name":        skill.frontmatter.Name,
		"description": skill.frontmatter.Description,
		"content":     skill.body,
	})
}

// Names lists every eligible discovered skill name, sorted, for injection
// into the prompt's volatile tier so the model knows what skill_read can
// return. Ineligible skills (failing an OS/env/bin gate) are omitted.
func (t *SkillReadTool) Names() []string {
	skills, err := t.discover()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(skills))
	for name, skill := range skills {
		if _, eligible := checkEligibility(skill.frontmatter.Requires); eligible {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// discover scans workspaceDir then userDir, so a later userDir hit
// overwrites a workspace hit of the same name — user skills win.
func (t *SkillReadTool) discover() (map[string]*discoveredSkill, error) {
	result := make(map[string]*discoveredSkill)
	if err := scanSkillDir(t.workspaceDir, false, result); err != nil {
		return nil, err
	}
	if err := scanSkillDir(t.userDir, true, result); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSkillDir(dir string, userDir bool, into map[string]*discoveredSkill) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, e.Name(), skillFilename)
		raw, err := os.ReadFile(skillFile)
		if err != nil {
			continue // no SKILL.md in this subdirectory
		}
		fm, body, err := parseSkillFile(raw)
		if err != nil {
			continue // malformed skill, skip rather than abort discovery
		}
		into[fm.Name] = &discoveredSkill{frontmatter: fm, body: body, dir: filepath.Join(dir, e.Name()), userDir: userDir}
	}
	return nil
}

// parseSkillFile splits a SKILL.md's "---" delimited YAML frontmatter from
// its markdown body. Grounded on internal/skills/parser.go's
// splitFrontmatter/ParseSkill, unchanged in shape.
func parseSkillFile(data []byte) (skillFrontmatter, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return skillFrontmatter{}, "", fmt.Errorf("missing opening frontmatter delimiter")
	}
	var fmLines []string
	closed := false
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "---" {
			closed = true
			break
		}
		fmLines = append(fmLines, scanner.Text())
	}
	if !closed {
		return skillFrontmatter{}, "", fmt.Errorf("missing closing frontmatter delimiter")
	}
	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return skillFrontmatter{}, "", err
	}

	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &fm); err != nil {
		return skillFrontmatter{}, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	if fm.Name == "" {
		return skillFrontmatter{}, "", fmt.Errorf("skill name is required")
	}
	return fm, strings.TrimSpace(strings.Join(bodyLines, "\n")), nil
}

// checkEligibility evaluates a skill's declared OS/env/PATH-binary
// requirements against the current process. Grounded on
// internal/skills/gating.go's CheckEligibility, reduced to the requirement
// kinds the spec names.
func checkEligibility(req *skillRequire) (reason string, eligible bool) {
	if req == nil {
		return "", true
	}
	if len(req.OS) > 0 {
		found := false
		for _, os := range req.OS {
			if os == runtime.GOOS {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("requires OS %v, have %s", req.OS, runtime.GOOS), false
		}
	}
	for _, env := range req.Env {
		if _, ok := os.LookupEnv(env); !ok {
			return fmt.Sprintf("missing environment variable: %s", env), false
		}
	}
	for _, bin := range req.Bin {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Sprintf("missing required binary: %s", bin), false
		}
	}
	return "", true
}
