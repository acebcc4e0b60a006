// Package mcp manages connections to external capability servers
// speaking the Model Context Protocol. A Manager pools one session per
// orchestrator session and server, exposes their tools as remote
// capabilities, and tears connections down when the orchestrator
// session ends.
package mcp

import (
	"fmt"
	"os"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ServerConfig describes one capability server. Exactly one of Command
// (stdio transport) or URL (SSE transport) must be set.
type ServerConfig struct {
	Command  string            `koanf:"command" json:"command,omitempty"`
	Args     []string          `koanf:"args" json:"args,omitempty"`
	Env      map[string]string `koanf:"env" json:"env,omitempty"`
	URL      string            `koanf:"url" json:"url,omitempty"`
	Disabled bool              `koanf:"disabled" json:"disabled,omitempty"`
}

// Validate checks that the entry selects exactly one transport.
func (c ServerConfig) Validate() error {
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("needs a command or url")
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("command and url are mutually exclusive")
	}
	return nil
}

type serversFile struct {
	Servers map[string]ServerConfig `koanf:"mcpServers"`
}

// LoadServers reads a server definition file. The file is YAML (JSON
// works too) with servers keyed by name under mcpServers. Disabled
// entries are dropped here so callers never see them.
func LoadServers(path string) (map[string]ServerConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading servers file: %w", err)
	}
	return ParseServers(content)
}

// ParseServers parses server definitions from raw file content.
func ParseServers(content []byte) (map[string]ServerConfig, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing servers file: %w", err)
	}

	var file serversFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("unmarshaling servers file: %w", err)
	}

	servers := make(map[string]ServerConfig, len(file.Servers))
	for name, cfg := range file.Servers {
		if name == "" {
			return nil, fmt.Errorf("server name cannot be empty")
		}
		if cfg.Disabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		servers[name] = cfg
	}
	return servers, nil
}

// serverNames returns the configured names in stable order.
func serverNames(servers map[string]ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
