package models

// MCPServerSelection names one tool server an alert is allowed to use, with
// an optional narrowing to specific tools. An empty Tools slice means every
// tool the server advertises.
type MCPServerSelection struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools,omitempty"`
}

// MCPSelectionConfig is the per-alert override narrowing which tool servers
// and tools the dispatched agent may use. It round-trips losslessly through
// the session row's mcp_selection column.
type MCPSelectionConfig struct {
	Servers []MCPServerSelection `json:"servers"`
}

// ServerNames returns the selected server names in declaration order.
func (c *MCPSelectionConfig) ServerNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	return names
}

// MCPSelectionFromMap rebuilds a selection from the session row's
// mcp_selection column. A nil or empty map yields nil.
func MCPSelectionFromMap(m map[string]any) (*MCPSelectionConfig, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var sel MCPSelectionConfig
	if err := fromMap(m, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

// ToolsFor returns the tool narrowing for a server, with ok=false when the
// server is not part of the selection.
func (c *MCPSelectionConfig) ToolsFor(server string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	for _, s := range c.Servers {
		if s.Name == server {
			return s.Tools, true
		}
	}
	return nil, false
}
