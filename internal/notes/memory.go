package notes

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML block at the top of MEMORY.md. Unknown keys
// are preserved in Extra so the excerpt reflects whatever the operator
// put there.
type Frontmatter struct {
	Name    string   `yaml:"name,omitempty"`
	Mission string   `yaml:"mission,omitempty"`
	Focus   []string `yaml:"focus,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// MemoryExcerpt reads MEMORY.md and renders a bounded single-block
// excerpt for prompt assembly: the frontmatter fields first, then the
// leading body lines until maxChars is spent. A missing file yields an
// empty excerpt, not an error.
func MemoryExcerpt(path string, maxChars int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read memory doc: %w", err)
	}
	fm, body := splitFrontmatter(string(data))

	var b strings.Builder
	if fm != "" {
		var parsed Frontmatter
		if err := yaml.Unmarshal([]byte(fm), &parsed); err == nil {
			writeFrontmatter(&b, parsed)
		}
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeFrontmatter(b *strings.Builder, fm Frontmatter) {
	if fm.Name != "" {
		fmt.Fprintf(b, "name: %s\n", fm.Name)
	}
	if fm.Mission != "" {
		fmt.Fprintf(b, "mission: %s\n", fm.Mission)
	}
	if len(fm.Focus) > 0 {
		fmt.Fprintf(b, "focus: %s\n", strings.Join(fm.Focus, ", "))
	}
	if len(fm.Extra) > 0 {
		keys := make([]string, 0, len(fm.Extra))
		for k := range fm.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s: %v\n", k, fm.Extra[k])
		}
	}
}

// UpdateFrontmatter rewrites MEMORY.md's YAML block through fn, leaving
// the markdown body untouched. A missing file starts from an empty
// document.
func UpdateFrontmatter(path string, fn func(*Frontmatter)) error {
	var body string
	var fm Frontmatter
	if data, err := os.ReadFile(path); err == nil {
		var raw string
		raw, body = splitFrontmatter(string(data))
		if raw != "" {
			if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
				return fmt.Errorf("parse memory frontmatter: %w", err)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read memory doc: %w", err)
	}

	fn(&fm)

	encoded, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("encode memory frontmatter: %w", err)
	}
	doc := "---\n" + string(encoded) + "---\n" + strings.TrimLeft(body, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write memory doc: %w", err)
	}
	return nil
}

// AppendBody appends a promoted note to the end of MEMORY.md.
func AppendBody(path, note string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory doc: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + strings.TrimSpace(note) + "\n"); err != nil {
		return fmt.Errorf("append memory note: %w", err)
	}
	return nil
}

// splitFrontmatter separates a leading "---" delimited YAML block from
// the markdown body. Absent frontmatter returns ("", whole document).
func splitFrontmatter(doc string) (fm, body string) {
	const delim = "---"
	lines := strings.Split(doc, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delim {
		return "", doc
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return "", doc
}

// SoulExcerpt returns the opening of SOUL.md, bounded to maxChars,
// skipping the title heading. Missing file yields empty.
func SoulExcerpt(path string, maxChars int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read soul doc: %w", err)
	}
	var b strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "# ") {
			continue
		}
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
