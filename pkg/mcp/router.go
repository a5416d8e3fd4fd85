package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// Canonical tool names are "server.tool": each side starts with a word
// character and continues with word characters or hyphens.
var toolNameRe = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName maps controller-specific tool naming onto the
// canonical "server.tool" form. Native function calling cannot use dots in
// function names, so those controllers advertise "server__tool"; only that
// first double underscore is rewritten.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName splits a canonical tool name into its server id and tool
// name, rejecting anything that does not match the strict format.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRe.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format (e.g., 'kubernetes-server.get_pods')",
			name)
	}
	return matches[1], matches[2], nil
}
