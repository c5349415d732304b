package mentions

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"mdblog/internal/model"
)

var frontMatterDelim = []byte("---\n")

// encodeMention serializes a mention as YAML front matter followed by the
// content snippet as the Markdown body.
func encodeMention(m *model.Mention) ([]byte, error) {
	meta, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mention: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(frontMatterDelim)
	buf.Write(meta)
	buf.Write(frontMatterDelim)
	if m.ContentSnippet != "" {
		buf.WriteByte('\n')
		buf.WriteString(m.ContentSnippet)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// decodeMention parses a mention file written by encodeMention.
func decodeMention(data []byte) (*model.Mention, error) {
	rest, ok := bytes.CutPrefix(data, frontMatterDelim)
	if !ok {
		return nil, fmt.Errorf("decode mention: missing front matter")
	}
	meta, _, ok := bytes.Cut(rest, frontMatterDelim)
	if !ok {
		return nil, fmt.Errorf("decode mention: unterminated front matter")
	}

	var m model.Mention
	if err := yaml.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("decode mention: %w", err)
	}
	if m.Source == "" || m.Target == "" {
		return nil, fmt.Errorf("decode mention: missing source or target")
	}
	if m.Status == "" {
		m.Status = model.StatusPending
	}
	if m.Type == "" {
		m.Type = model.MentionPlain
	}
	return &m, nil
}
