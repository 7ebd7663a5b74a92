package agent

import (
	"embed"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nolan-sh/nolan/internal/common/apperr"
	"github.com/nolan-sh/nolan/internal/common/fsutil"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

// Predefined agent templates bundled in the binary. Each directory
// holds an agent.yaml plus the instruction file, installed verbatim.
//
//go:embed templates
var templateFS embed.FS

const templateRoot = "templates"

// TemplateInfo describes one bundled template and whether a shared
// agent of that name is already installed.
type TemplateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
	Model       string `json:"model"`
	Installed   bool   `json:"installed"`
}

// templateMeta is the subset of agent.yaml surfaced in listings.
type templateMeta struct {
	Description string `yaml:"description"`
	Kind        Kind   `yaml:"kind"`
	Model       string `yaml:"model"`
}

func readTemplate(name string) (agentYAML, prompt []byte, err error) {
	if err := paths.ValidateAgentName(name); err != nil {
		return nil, nil, apperr.NotFound("template", name)
	}
	agentYAML, err = templateFS.ReadFile(path.Join(templateRoot, name, agentFileName))
	if err != nil {
		return nil, nil, apperr.NotFound("template", name)
	}
	prompt, err = templateFS.ReadFile(path.Join(templateRoot, name, DefaultInstructionFile))
	if err != nil {
		return nil, nil, apperr.NotFound("template", name)
	}
	return agentYAML, prompt, nil
}

// ListTemplates returns every bundled template sorted by name.
func (s *Store) ListTemplates() ([]TemplateInfo, error) {
	entries, err := templateFS.ReadDir(templateRoot)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]TemplateInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, _, err := readTemplate(e.Name())
		if err != nil {
			return nil, err
		}
		var meta templateMeta
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return nil, apperr.Internal(err)
		}
		if meta.Model == "" {
			meta.Model = "sonnet"
		}
		_, statErr := os.Stat(filepath.Join(s.paths.AgentDir(e.Name()), agentFileName))
		out = append(out, TemplateInfo{
			Name:        e.Name(),
			Description: meta.Description,
			Kind:        meta.Kind,
			Model:       meta.Model,
			Installed:   statErr == nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// InstallTemplate materialises a bundled template as a shared agent.
// The bundled files are written verbatim, so a reinstall reproduces
// the same documents byte for byte.
func (s *Store) InstallTemplate(name string) (*Agent, error) {
	agentYAML, prompt, err := readTemplate(name)
	if err != nil {
		return nil, err
	}
	var a Agent
	if err := yaml.Unmarshal(agentYAML, &a); err != nil {
		return nil, apperr.Internal(err)
	}
	dir := s.paths.AgentDir(name)
	if _, err := os.Stat(filepath.Join(dir, agentFileName)); err == nil {
		return nil, apperr.AlreadyExists("agent", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, agentFileName), agentYAML, 0o644); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, a.Instruction()), prompt, 0o644); err != nil {
		return nil, apperr.Internal(err)
	}
	s.log.Info("template installed", zap.String("template", name))
	return &a, nil
}

// UninstallTemplate removes the shared agent a template was installed
// as. Only bundled template names are accepted.
func (s *Store) UninstallTemplate(name string) error {
	if _, _, err := readTemplate(name); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(s.paths.AgentDir(name), agentFileName)); err != nil {
		return apperr.NotFound("installed template", name)
	}
	if err := s.Delete("", name); err != nil {
		return err
	}
	s.log.Info("template uninstalled", zap.String("template", name))
	return nil
}
