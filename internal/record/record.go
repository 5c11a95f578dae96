// Package record implements the per-row record file format: a short leading
// metadata block of "key: value" lines terminated by a blank line, followed
// by the page body as plain text with minimal structure (headings, lists,
// inline links).
package record

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// Extension is the record file extension.
const Extension = ".txt"

// Well-known metadata keys. Arbitrary additional keys (column summaries)
// are preserved in order.
const (
	MetaRowKey   = "rowKey"
	MetaLastSync = "lastSync"
)

// BlockType is the structural type of one body block.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading1  BlockType = "heading1"
	BlockHeading2  BlockType = "heading2"
	BlockHeading3  BlockType = "heading3"
	BlockBullet    BlockType = "bullet"
	BlockNumbered  BlockType = "numbered"
)

// Block is one body block. Links inside the text are inline annotations of
// the form [text](url).
type Block struct {
	Type BlockType
	Text string
}

// File is the parsed form of a record file.
type File struct {
	Meta     map[string]string
	MetaKeys []string // key order, for deterministic rendering
	Body     []Block
}

// NewFile creates an empty record file.
func NewFile() *File {
	return &File{Meta: make(map[string]string)}
}

// SetMeta sets a metadata key, preserving first-seen order.
func (f *File) SetMeta(key, value string) {
	if _, ok := f.Meta[key]; !ok {
		f.MetaKeys = append(f.MetaKeys, key)
	}

	f.Meta[key] = value
}

// RowKey returns the rowKey metadata value.
func (f *File) RowKey() string { return f.Meta[MetaRowKey] }

// Render renders the file to its on-disk text form. Output always ends with
// a newline and uses LF line endings.
func (f *File) Render() []byte {
	var b strings.Builder

	for _, key := range f.MetaKeys {
		fmt.Fprintf(&b, "%s: %s\n", key, f.Meta[key])
	}

	b.WriteString("\n")

	for i, blk := range f.Body {
		switch blk.Type {
		case BlockHeading1:
			b.WriteString("# " + blk.Text + "\n")
		case BlockHeading2:
			b.WriteString("## " + blk.Text + "\n")
		case BlockHeading3:
			b.WriteString("### " + blk.Text + "\n")
		case BlockBullet:
			b.WriteString("- " + blk.Text + "\n")
		case BlockNumbered:
			b.WriteString(numberedPrefix(f.Body, i) + blk.Text + "\n")
		default:
			b.WriteString(blk.Text + "\n")
		}

		// Paragraphs and headings are separated by a blank line; consecutive
		// list items are not.
		if i+1 < len(f.Body) && !(isList(blk.Type) && isList(f.Body[i+1].Type)) {
			b.WriteString("\n")
		}
	}

	return []byte(b.String())
}

// numberedPrefix computes the "n. " prefix by counting the run of numbered
// items ending at index i.
func numberedPrefix(body []Block, i int) string {
	n := 1

	for j := i - 1; j >= 0 && body[j].Type == BlockNumbered; j-- {
		n++
	}

	return fmt.Sprintf("%d. ", n)
}

func isList(t BlockType) bool {
	return t == BlockBullet || t == BlockNumbered
}

var numberedRe = regexp.MustCompile(`^(\d+)\.\s+`)

// Parse reads a record file from its text form. The metadata block runs to
// the first blank line; anything before a "key: value" shape is rejected.
func Parse(data []byte) (*File, error) {
	f := NewFile()
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Metadata block.
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			break
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("record: malformed metadata line %q", line)
		}

		f.SetMeta(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	// Body: blank lines separate blocks, consecutive list items chain.
	var para []string

	flush := func() {
		if len(para) > 0 {
			f.Body = append(f.Body, Block{Type: BlockParagraph, Text: strings.Join(para, " ")})
			para = nil
		}
	}

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush()

		case strings.HasPrefix(line, "### "):
			flush()
			f.Body = append(f.Body, Block{Type: BlockHeading3, Text: line[4:]})

		case strings.HasPrefix(line, "## "):
			flush()
			f.Body = append(f.Body, Block{Type: BlockHeading2, Text: line[3:]})

		case strings.HasPrefix(line, "# "):
			flush()
			f.Body = append(f.Body, Block{Type: BlockHeading1, Text: line[2:]})

		case strings.HasPrefix(line, "- "):
			flush()
			f.Body = append(f.Body, Block{Type: BlockBullet, Text: line[2:]})

		case numberedRe.MatchString(line):
			flush()
			f.Body = append(f.Body, Block{Type: BlockNumbered, Text: numberedRe.ReplaceAllString(line, "")})

		default:
			para = append(para, trimmed)
		}
	}

	flush()

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("record: scanning body: %w", err)
	}

	return f, nil
}

// BodyEqual reports whether two files have identical body content, ignoring
// metadata. Used to decide whether a record file actually changed.
func BodyEqual(a, b *File) bool {
	if len(a.Body) != len(b.Body) {
		return false
	}

	for i := range a.Body {
		if a.Body[i] != b.Body[i] {
			return false
		}
	}

	return true
}
