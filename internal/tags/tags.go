// Package tags auto-extracts tags from memory text: technology keywords
// plus file extensions found in the topic and content.
package tags

import (
	"regexp"
	"sort"
	"strings"
)

// MaxTags caps the number of auto-extracted tags per memory.
const MaxTags = 10

var techKeywords = []string{
	"python", "javascript", "typescript", "rust", "go", "java",
	"react", "vue", "angular", "node", "django", "flask", "fastapi",
	"postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis",
	"docker", "kubernetes", "aws", "gcp", "azure",
	"api", "rest", "graphql", "grpc",
	"git", "github", "gitlab",
	"test", "testing", "debug", "debugging",
	"auth", "authentication", "authorization",
	"database", "cache", "queue", "async",
	"frontend", "backend", "fullstack",
	"security", "performance", "optimization",
}

var knownExtensions = map[string]bool{
	"py": true, "js": true, "ts": true, "rs": true,
	"go": true, "java": true, "rb": true, "php": true,
}

var extensionPattern = regexp.MustCompile(`\.([a-z]{2,4})\b`)

// Extract returns up to MaxTags tags found in the topic and content,
// sorted for determinism.
func Extract(topic, content string) []string {
	text := strings.ToLower(topic + " " + content)
	found := map[string]bool{}

	for _, kw := range techKeywords {
		if strings.Contains(text, kw) {
			found[kw] = true
		}
	}

	for _, match := range extensionPattern.FindAllStringSubmatch(text, -1) {
		if knownExtensions[match[1]] {
			found[match[1]] = true
		}
	}

	out := make([]string, 0, len(found))
	for tag := range found {
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) > MaxTags {
		out = out[:MaxTags]
	}
	return out
}
