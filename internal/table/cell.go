package table

import (
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// listSeparator joins multi-valued cells in their CSV string form. A literal
// ", " inside a value is escaped by doubling it.
const listSeparator = ", "

// Cell is the typed value of one table cell: a tagged variant over Kind.
// Exactly one value group is meaningful for a given kind; Encode and
// DecodeCell define the canonical CSV string form.
type Cell struct {
	Kind Kind

	Text    string   // title, text, url, email, phone, and read-only renderings
	Number  float64  // number
	HasNum  bool     // number present (distinguishes 0 from blank)
	Checked bool     // checkbox
	Date    *Date    // date
	Options []string // singleSelect/status (len<=1), multiSelect
	Refs    []string // relation (row ids), people (user ids), files (URLs)
}

// Date is an ISO-8601 date or interval. Start and End keep their original
// offset text so time zones survive the round trip. End is empty for a
// plain date.
type Date struct {
	Start string
	End   string
}

// String renders the date as "start" or "start/end".
func (d *Date) String() string {
	if d == nil || d.Start == "" {
		return ""
	}

	if d.End == "" {
		return d.Start
	}

	return d.Start + "/" + d.End
}

// TextCell builds a string-valued cell of the given kind.
func TextCell(kind Kind, text string) Cell {
	return Cell{Kind: kind, Text: text}
}

// NumberCell builds a number cell.
func NumberCell(n float64) Cell {
	return Cell{Kind: KindNumber, Number: n, HasNum: true}
}

// CheckboxCell builds a checkbox cell.
func CheckboxCell(checked bool) Cell {
	return Cell{Kind: KindCheckbox, Checked: checked}
}

// IsZero reports whether the cell carries no value.
func (c Cell) IsZero() bool {
	return c.Text == "" && !c.HasNum && !c.Checked && c.Date == nil &&
		len(c.Options) == 0 && len(c.Refs) == 0
}

// Encode renders the cell as its canonical CSV string.
func (c Cell) Encode() string {
	switch c.Kind {
	case KindNumber:
		if !c.HasNum {
			return ""
		}

		return strconv.FormatFloat(c.Number, 'f', -1, 64)

	case KindCheckbox:
		if c.Checked {
			return "true"
		}

		return "false"

	case KindDate:
		return c.Date.String()

	case KindSingleSelect, KindStatus, KindMultiSelect:
		return joinEscaped(c.Options)

	case KindRelation, KindPeople, KindFiles:
		return joinEscaped(c.Refs)

	default:
		return c.Text
	}
}

// DecodeCell parses a CSV string into a typed cell of the given kind.
// Returns an error when the value cannot be represented in that kind.
func DecodeCell(kind Kind, s string) (Cell, error) {
	c := Cell{Kind: kind}

	if s == "" {
		return c, nil
	}

	switch kind {
	case KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return c, fmt.Errorf("table: %q is not a number: %w", s, err)
		}

		c.Number = n
		c.HasNum = true

	case KindCheckbox:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			c.Checked = true
		case "false", "no", "0", "":
			c.Checked = false
		default:
			return c, fmt.Errorf("table: %q is not a checkbox value", s)
		}

	case KindDate:
		d, err := parseDate(s)
		if err != nil {
			return c, err
		}

		c.Date = d

	case KindSingleSelect, KindStatus:
		c.Options = []string{s}

	case KindMultiSelect:
		c.Options = splitEscaped(s)

	case KindRelation, KindPeople, KindFiles:
		c.Refs = splitEscaped(s)

	default:
		c.Text = s
	}

	return c, nil
}

// Validate checks the cell's value against its kind the way the push path
// requires: numeric, date, url, email, and phone values must parse.
func (c Cell) Validate() error {
	switch c.Kind {
	case KindURL:
		if c.Text == "" {
			return nil
		}

		u, err := url.Parse(c.Text)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("table: %q is not an absolute URL", c.Text)
		}

	case KindEmail:
		if c.Text == "" {
			return nil
		}

		if _, err := mail.ParseAddress(c.Text); err != nil {
			return fmt.Errorf("table: %q is not an email address: %w", c.Text, err)
		}

	case KindPhone:
		if c.Text == "" {
			return nil
		}

		if !validPhone(c.Text) {
			return fmt.Errorf("table: %q is not a phone number", c.Text)
		}

	case KindDate:
		if c.Date != nil {
			if _, err := parseDate(c.Date.String()); err != nil {
				return err
			}
		}
	}

	return nil
}

// Coerce converts the cell to a different kind where the pair is safe:
// text ↔ url/email/phone, and number ↔ numeric text. Returns false when
// the pair is unsafe or the value does not fit.
func (c Cell) Coerce(to Kind) (Cell, bool) {
	if c.Kind == to {
		return c, true
	}

	textish := func(k Kind) bool {
		return k == KindText || k == KindTitle || k == KindURL || k == KindEmail || k == KindPhone
	}

	switch {
	case textish(c.Kind) && textish(to):
		out := Cell{Kind: to, Text: c.Text}
		if err := out.Validate(); err != nil {
			return Cell{}, false
		}

		return out, true

	case c.Kind == KindNumber && textish(to):
		return Cell{Kind: to, Text: c.Encode()}, true

	case textish(c.Kind) && to == KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(c.Text), 64)
		if err != nil {
			return Cell{}, false
		}

		return Cell{Kind: KindNumber, Number: n, HasNum: true}, true

	default:
		return Cell{}, false
	}
}

// joinEscaped joins values with ", ", doubling any literal ", " inside a
// value so the join is reversible.
func joinEscaped(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = strings.ReplaceAll(v, listSeparator, listSeparator+listSeparator)
	}

	return strings.Join(escaped, listSeparator)
}

// splitEscaped reverses joinEscaped. A doubled ", " is a literal separator
// inside a value; a single one splits.
func splitEscaped(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	var cur strings.Builder

	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], listSeparator+listSeparator) {
			cur.WriteString(listSeparator)
			i += 2 * len(listSeparator)

			continue
		}

		if strings.HasPrefix(s[i:], listSeparator) {
			out = append(out, cur.String())
			cur.Reset()
			i += len(listSeparator)

			continue
		}

		cur.WriteByte(s[i])
		i++
	}

	out = append(out, cur.String())

	return out
}

// dateLayouts are accepted ISO-8601 shapes, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate parses "start" or "start/end" where each part is ISO-8601.
func parseDate(s string) (*Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	start, end, hasEnd := splitInterval(s)

	if err := checkISO(start); err != nil {
		return nil, err
	}

	d := &Date{Start: start}

	if hasEnd {
		if err := checkISO(end); err != nil {
			return nil, err
		}

		d.End = end
	}

	return d, nil
}

// splitInterval splits "start/end" on the interval slash, which is the only
// "/" that can appear between two date parts (dates themselves use "-" and ":").
func splitInterval(s string) (start, end string, hasEnd bool) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i], s[i+1:], true
	}

	return s, "", false
}

func checkISO(s string) error {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}

	return fmt.Errorf("table: %q is not an ISO-8601 date", s)
}

// validPhone accepts digits, spaces, and common punctuation with at least
// three digits.
func validPhone(s string) bool {
	digits := 0

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.' || r == '/':
		default:
			return false
		}
	}

	return digits >= 3
}
