package mcp

import (
	"fmt"
	"slices"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-bot/tarsy/pkg/config"
	"github.com/tarsy-bot/tarsy/pkg/models"
)

// ServerSelectionError reports a session MCP selection naming servers outside
// the dispatched agent's allowed set. Carries both sets so the API layer can
// return a structured rejection.
type ServerSelectionError struct {
	Requested []string
	Available []string
}

func (e *ServerSelectionError) Error() string {
	return fmt.Sprintf(
		"MCP server selection is not a subset of the agent's servers. Requested: %s. Available: %s",
		strings.Join(e.Requested, ", "), strings.Join(e.Available, ", "))
}

// ToolSelectionError reports a session MCP selection naming tools a selected
// server does not advertise.
type ToolSelectionError struct {
	Server    string
	Requested []string
	Available []string
}

func (e *ToolSelectionError) Error() string {
	return fmt.Sprintf(
		"MCP tool selection for server %q names unknown tools. Requested: %s. Available: %s",
		e.Server, strings.Join(e.Requested, ", "), strings.Join(e.Available, ", "))
}

// ResolveSelection narrows an agent's static server list by a session MCP
// selection. With no selection the agent's full list is effective and all
// tools are allowed (nil filter). With a selection, the effective servers are
// exactly those listed, which must be a subset of agentServers; per-server
// tool narrowing becomes the returned filter.
func ResolveSelection(agentServers []string, sel *models.MCPSelectionConfig) ([]string, map[string][]string, error) {
	if sel == nil || len(sel.Servers) == 0 {
		return slices.Clone(agentServers), nil, nil
	}

	var unknown []string
	for _, s := range sel.Servers {
		if !slices.Contains(agentServers, s.Name) {
			unknown = append(unknown, s.Name)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, &ServerSelectionError{
			Requested: sel.ServerNames(),
			Available: slices.Clone(agentServers),
		}
	}

	var effective []string
	var filter map[string][]string
	for _, s := range sel.Servers {
		if slices.Contains(effective, s.Name) {
			continue
		}
		effective = append(effective, s.Name)
		if len(s.Tools) > 0 {
			if filter == nil {
				filter = make(map[string][]string)
			}
			filter[s.Name] = slices.Clone(s.Tools)
		}
	}
	return effective, filter, nil
}

// ValidateToolSelection checks per-server tool narrowing against the advertised
// tool catalogue (typically HealthMonitor.GetCachedTools). Servers absent from
// the catalogue are skipped: an unreachable server cannot prove a tool unknown,
// and execution-time enforcement still applies.
func ValidateToolSelection(sel *models.MCPSelectionConfig, advertised map[string][]*mcpsdk.Tool) error {
	if sel == nil {
		return nil
	}
	for _, s := range sel.Servers {
		if len(s.Tools) == 0 {
			continue
		}
		tools, ok := advertised[s.Name]
		if !ok {
			continue
		}
		available := make([]string, 0, len(tools))
		for _, tool := range tools {
			available = append(available, tool.Name)
		}
		var unknown []string
		for _, name := range s.Tools {
			if !slices.Contains(available, name) {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return &ToolSelectionError{
				Server:    s.Name,
				Requested: slices.Clone(s.Tools),
				Available: available,
			}
		}
	}
	return nil
}

// ValidateSelectionForChain verifies a session MCP selection against every
// agent the chain will dispatch, so a bad selection rejects the session before
// any stage runs. Each agent's base list is the stage mcp_servers override
// when present, otherwise the agent's own list.
func ValidateSelectionForChain(chain *config.ChainConfig, agents *config.AgentRegistry, sel *models.MCPSelectionConfig) error {
	if sel == nil || len(sel.Servers) == 0 {
		return nil
	}
	for i := range chain.Stages {
		stage := &chain.Stages[i]
		for _, agentName := range stageAgentNames(stage) {
			agentCfg, err := agents.Get(agentName)
			if err != nil {
				return err
			}
			base := stage.MCPServers
			if len(base) == 0 {
				base = agentCfg.MCPServers
			}
			if _, _, err := ResolveSelection(base, sel); err != nil {
				return err
			}
		}
	}
	return nil
}

// stageAgentNames returns the distinct agent names a stage dispatches.
// Synthesis agents are excluded: they never dispatch tools.
func stageAgentNames(stage *config.StageConfig) []string {
	if stage.Agent != "" {
		return []string{stage.Agent}
	}
	names := make([]string, 0, len(stage.Agents))
	for _, a := range stage.Agents {
		if !slices.Contains(names, a.Name) {
			names = append(names, a.Name)
		}
	}
	return names
}
