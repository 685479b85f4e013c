package store

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parkerhale/engram/internal/models"
)

// frontmatter is the YAML header of an on-disk memory file. Field order is
// fixed by the struct so diffs stay stable under version control.
type frontmatter struct {
	ID             string    `yaml:"id"`
	Topic          string    `yaml:"topic"`
	Tags           []string  `yaml:"tags"`
	Phase          int       `yaml:"phase"`
	Difficulty     float64   `yaml:"difficulty"`
	CreatedAt      time.Time `yaml:"created_at"`
	CreatedSession int       `yaml:"created_session"`
}

const frontmatterDelim = "---"

// encodeMemory renders a memory as markdown with a YAML frontmatter header.
func encodeMemory(m *models.Memory) ([]byte, error) {
	fm := frontmatter{
		ID:             m.ID,
		Topic:          m.Topic,
		Tags:           m.Tags,
		Phase:          int(m.Phase),
		Difficulty:     m.Difficulty,
		CreatedAt:      m.CreatedAt.UTC(),
		CreatedSession: m.CreatedSession,
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("encoding frontmatter for %s: %w", m.ID, err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterDelim + "\n\n")
	buf.WriteString(m.Content())
	return buf.Bytes(), nil
}

// decodeMemory parses a markdown memory file. A file without a frontmatter
// header decodes to a bare-body memory so integrity checks can still surface
// it instead of failing the whole scan.
func decodeMemory(data []byte) (*models.Memory, error) {
	text := string(data)

	rest, found := strings.CutPrefix(text, frontmatterDelim+"\n")
	if !found {
		summary, body := models.SplitSections(text)
		return &models.Memory{Summary: summary, Body: body}, nil
	}

	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("unterminated frontmatter header")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("decoding frontmatter: %w", err)
	}

	body := rest[end+len("\n"+frontmatterDelim):]
	// Skip the delimiter's trailing newline and the blank separator line.
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	summary, content := models.SplitSections(body)
	return &models.Memory{
		ID:             fm.ID,
		Topic:          fm.Topic,
		Tags:           fm.Tags,
		Phase:          models.Phase(fm.Phase),
		Difficulty:     fm.Difficulty,
		CreatedAt:      fm.CreatedAt,
		CreatedSession: fm.CreatedSession,
		Summary:        summary,
		Body:           content,
	}, nil
}
