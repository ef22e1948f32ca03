package masking

import (
	"net/url"
	"strings"
)

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"secret":        {},
	"webhook_url":   {},
	"password":      {},
}

// MaskSecret redacts a secret while keeping a short suffix for correlation.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskURL keeps the scheme and host of a credential-bearing URL such as a
// Discord webhook and redacts the path.
func MaskURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return MaskSecret(raw)
	}
	return parsed.Scheme + "://" + parsed.Host + "/" + maskToken
}

// MaskMetadata returns a copy of input with sensitive keys redacted.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, sensitive := sensitiveKeys[strings.ToLower(trimmedKey)]; sensitive {
			masked[trimmedKey] = maskValue(value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[trimmedKey] = MaskMetadata(nested)
			continue
		}
		masked[trimmedKey] = value
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		if strings.Contains(cast, "://") {
			return MaskURL(cast)
		}
		return MaskSecret(cast)
	case map[string]any:
		out := make(map[string]any, len(cast))
		for key, item := range cast {
			out[key] = maskValue(item)
		}
		return out
	default:
		return maskToken
	}
}
