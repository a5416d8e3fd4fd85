package masking

// builtinPattern is one compiled-in regex masker definition.
type builtinPattern struct {
	pattern     string
	replacement string
	description string
}

// builtinPatterns returns the regex maskers compiled into every Service.
// User YAML references these by name, directly or through pattern groups.
func builtinPatterns() map[string]builtinPattern {
	return map[string]builtinPattern{
		"api_key": {
			pattern:     `(?i)(?:api[_-]?key|apikey|key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			replacement: `"api_key": "[MASKED_API_KEY]"`,
			description: "API keys",
		},
		"password": {
			pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			replacement: `"password": "[MASKED_PASSWORD]"`,
			description: "Passwords",
		},
		"certificate": {
			pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			replacement: `[MASKED_CERTIFICATE]`,
			description: "SSL/TLS certificates",
		},
		"certificate_authority_data": {
			pattern:     `(?i)certificate-authority-data:\s*([A-Za-z0-9+/]{20,}={0,2})`,
			replacement: `certificate-authority-data: [MASKED_CA_CERTIFICATE]`,
			description: "K8s CA data",
		},
		"token": {
			pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			replacement: `"token": "[MASKED_TOKEN]"`,
			description: "Access tokens",
		},
		"email": {
			pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			replacement: `[MASKED_EMAIL]`,
			description: "Email addresses",
		},
		"ssh_key": {
			pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			replacement: `[MASKED_SSH_KEY]`,
			description: "SSH public keys",
		},
		"base64_secret": {
			pattern:     `\b([A-Za-z0-9+/]{20,}={0,2})\b`,
			replacement: `[MASKED_BASE64_VALUE]`,
			description: "Base64 values (20+ chars)",
		},
		"base64_short": {
			pattern:     `:\s+([A-Za-z0-9+/]{4,19}={0,2})(?:\s|$)`,
			replacement: `: [MASKED_SHORT_BASE64]`,
			description: "Short base64 values",
		},
		"private_key": {
			pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			description: "Private keys",
		},
		"secret_key": {
			pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			replacement: `"secret_key": "[MASKED_SECRET_KEY]"`,
			description: "Secret keys",
		},
		"aws_access_key": {
			pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			description: "AWS access keys",
		},
		"aws_secret_key": {
			pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			replacement: `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`,
			description: "AWS secret keys",
		},
		"github_token": {
			pattern:     `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`,
			replacement: `[MASKED_GITHUB_TOKEN]`,
			description: "GitHub tokens",
		},
		"slack_token": {
			pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			replacement: `[MASKED_SLACK_TOKEN]`,
			description: "Slack tokens",
		},
	}
}

// builtinPatternGroups returns named bundles of maskers. Group members may
// be regex pattern names or code masker names; resolution sorts them out.
func builtinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":      {"api_key", "password"},
		"secrets":    {"api_key", "password", "token", "private_key", "secret_key"},
		"security":   {"api_key", "password", "token", "certificate", "certificate_authority_data", "email", "ssh_key"},
		"kubernetes": {"kubernetes_secret", "api_key", "password", "certificate_authority_data"},
		"cloud":      {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"all": {
			"base64_secret", "base64_short", "api_key", "password", "certificate",
			"certificate_authority_data", "email", "token", "ssh_key", "private_key",
			"secret_key", "aws_access_key", "aws_secret_key", "github_token", "slack_token",
		},
	}
}

// builtinCodeMaskers names the code-based maskers that pattern groups may
// reference. Each must be registered in NewService.
func builtinCodeMaskers() []string {
	return []string{"kubernetes_secret"}
}
