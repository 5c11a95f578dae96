package remote

import (
	"strings"
	"time"
)

// Property type tokens used by the remote store.
const (
	TypeTitle          = "title"
	TypeRichText       = "rich_text"
	TypeNumber         = "number"
	TypeCheckbox       = "checkbox"
	TypeDate           = "date"
	TypeSelect         = "select"
	TypeMultiSelect    = "multi_select"
	TypeStatus         = "status"
	TypeURL            = "url"
	TypeEmail          = "email"
	TypePhone          = "phone_number"
	TypeRelation       = "relation"
	TypePeople         = "people"
	TypeFiles          = "files"
	TypeFormula        = "formula"
	TypeRollup         = "rollup"
	TypeCreatedTime    = "created_time"
	TypeLastEditedTime = "last_edited_time"
	TypeCreatedBy      = "created_by"
	TypeLastEditedBy   = "last_edited_by"
)

// RichText is one segment of formatted text.
type RichText struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
	Href      string       `json:"href,omitempty"`
}

// TextContent is the writable part of a rich text segment.
type TextContent struct {
	Content string `json:"content"`
	Link    *Link  `json:"link,omitempty"`
}

// Link is a URL annotation on a text segment.
type Link struct {
	URL string `json:"url"`
}

// Text builds a single-segment rich text value.
func Text(s string) []RichText {
	if s == "" {
		return nil
	}

	return []RichText{{Type: "text", Text: &TextContent{Content: s}, PlainText: s}}
}

// Plain flattens rich text segments to a plain string, preserving segment
// order. Links are kept as inline [text](url) annotations.
func Plain(segments []RichText) string {
	var b strings.Builder

	for _, seg := range segments {
		text := seg.PlainText
		if text == "" && seg.Text != nil {
			text = seg.Text.Content
		}

		href := seg.Href
		if href == "" && seg.Text != nil && seg.Text.Link != nil {
			href = seg.Text.Link.URL
		}

		if href != "" && text != "" {
			b.WriteString("[" + text + "](" + href + ")")
		} else {
			b.WriteString(text)
		}
	}

	return b.String()
}

// Option is one allowed choice of a select, multi-select, or status property.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// OptionSet holds a property's option list.
type OptionSet struct {
	Options []Option `json:"options"`
}

// Property is one column of a data source schema.
type Property struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	Type        string     `json:"type"`
	Select      *OptionSet `json:"select,omitempty"`
	MultiSelect *OptionSet `json:"multi_select,omitempty"`
	Status      *OptionSet `json:"status,omitempty"`
}

// OptionNames returns the property's option names, or nil for kinds
// without options.
func (p *Property) OptionNames() []string {
	set := p.optionSet()
	if set == nil {
		return nil
	}

	names := make([]string, len(set.Options))
	for i, o := range set.Options {
		names[i] = o.Name
	}

	return names
}

func (p *Property) optionSet() *OptionSet {
	switch p.Type {
	case TypeSelect:
		return p.Select
	case TypeMultiSelect:
		return p.MultiSelect
	case TypeStatus:
		return p.Status
	default:
		return nil
	}
}

// Date is a date or interval property value. Start and End keep their
// original offset text.
type Date struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// PageRef is a reference to another row.
type PageRef struct {
	ID string `json:"id"`
}

// User identifies a person.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FileRef is one file attachment. Only external URLs survive a round trip;
// hosted files expose a temporary URL.
type FileRef struct {
	Name     string        `json:"name,omitempty"`
	Type     string        `json:"type,omitempty"`
	External *ExternalFile `json:"external,omitempty"`
	File     *HostedFile   `json:"file,omitempty"`
}

// ExternalFile is a file stored outside the remote store.
type ExternalFile struct {
	URL string `json:"url"`
}

// HostedFile is a file stored by the remote store.
type HostedFile struct {
	URL string `json:"url"`
}

// URL returns the file's URL regardless of hosting.
func (f *FileRef) URL() string {
	if f.External != nil {
		return f.External.URL
	}

	if f.File != nil {
		return f.File.URL
	}

	return ""
}

// Value is a property value on a page. Exactly the field matching Type is
// populated.
type Value struct {
	Type           string     `json:"type,omitempty"`
	Title          []RichText `json:"title,omitempty"`
	RichText       []RichText `json:"rich_text,omitempty"`
	Number         *float64   `json:"number,omitempty"`
	Checkbox       *bool      `json:"checkbox,omitempty"`
	Date           *Date      `json:"date,omitempty"`
	Select         *Option    `json:"select,omitempty"`
	MultiSelect    []Option   `json:"multi_select,omitempty"`
	Status         *Option    `json:"status,omitempty"`
	URL            *string    `json:"url,omitempty"`
	Email          *string    `json:"email,omitempty"`
	PhoneNumber    *string    `json:"phone_number,omitempty"`
	Relation       []PageRef  `json:"relation,omitempty"`
	People         []User     `json:"people,omitempty"`
	Files          []FileRef  `json:"files,omitempty"`
	Formula        *Formula   `json:"formula,omitempty"`
	Rollup         *Rollup    `json:"rollup,omitempty"`
	CreatedTime    string     `json:"created_time,omitempty"`
	LastEditedTime string     `json:"last_edited_time,omitempty"`
	CreatedBy      *User      `json:"created_by,omitempty"`
	LastEditedBy   *User      `json:"last_edited_by,omitempty"`
}

// Formula is a computed property result.
type Formula struct {
	Type    string   `json:"type"`
	String  *string  `json:"string,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
	Date    *Date    `json:"date,omitempty"`
}

// Rollup is an aggregated property result.
type Rollup struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number,omitempty"`
	Date   *Date    `json:"date,omitempty"`
	Array  []Value  `json:"array,omitempty"`
}

// DataSourceRef names one data source of a database.
type DataSourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Database is a remote database as returned by search. Mutations address
// the data source, never the database id.
type Database struct {
	ID              string          `json:"id"`
	Title           []RichText      `json:"title"`
	DataSources     []DataSourceRef `json:"data_sources,omitempty"`
	ParentWorkspace string          `json:"-"`
	Parent          *Parent         `json:"parent,omitempty"`
	LastEditedTime  time.Time       `json:"last_edited_time"`
	Archived        bool            `json:"archived,omitempty"`
}

// DisplayName returns the database title as plain text.
func (d *Database) DisplayName() string {
	return Plain(d.Title)
}

// Parent locates an object within the remote store.
type Parent struct {
	Type         string `json:"type,omitempty"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	DataSourceID string `json:"data_source_id,omitempty"`
	PageID       string `json:"page_id,omitempty"`
	DatabaseID   string `json:"database_id,omitempty"`
}

// DataSource is a data source's property schema.
type DataSource struct {
	ID         string              `json:"id"`
	Properties map[string]Property `json:"properties"`
}

// PropertyNames returns the schema's property names.
func (ds *DataSource) PropertyNames() []string {
	names := make([]string, 0, len(ds.Properties))
	for name := range ds.Properties {
		names = append(names, name)
	}

	return names
}

// TitleProperty returns the name of the schema's title property, or "".
func (ds *DataSource) TitleProperty() string {
	for name, p := range ds.Properties {
		if p.Type == TypeTitle {
			return name
		}
	}

	return ""
}

// Page is a row of a data source (or a standalone page).
type Page struct {
	ID             string           `json:"id"`
	Parent         *Parent          `json:"parent,omitempty"`
	CreatedTime    time.Time        `json:"created_time"`
	LastEditedTime time.Time        `json:"last_edited_time"`
	Archived       bool             `json:"archived"`
	InTrash        bool             `json:"in_trash,omitempty"`
	Properties     map[string]Value `json:"properties"`
}

// Block is one content block of a page body.
type Block struct {
	ID          string        `json:"id,omitempty"`
	Type        string        `json:"type"`
	HasChildren bool          `json:"has_children,omitempty"`
	Paragraph   *BlockContent `json:"paragraph,omitempty"`
	Heading1    *BlockContent `json:"heading_1,omitempty"`
	Heading2    *BlockContent `json:"heading_2,omitempty"`
	Heading3    *BlockContent `json:"heading_3,omitempty"`
	Bulleted    *BlockContent `json:"bulleted_list_item,omitempty"`
	Numbered    *BlockContent `json:"numbered_list_item,omitempty"`
}

// BlockContent holds a block's rich text.
type BlockContent struct {
	RichText []RichText `json:"rich_text"`
}

// Content returns the rich text for whichever block type is set.
func (b *Block) Content() []RichText {
	switch b.Type {
	case "paragraph":
		if b.Paragraph != nil {
			return b.Paragraph.RichText
		}
	case "heading_1":
		if b.Heading1 != nil {
			return b.Heading1.RichText
		}
	case "heading_2":
		if b.Heading2 != nil {
			return b.Heading2.RichText
		}
	case "heading_3":
		if b.Heading3 != nil {
			return b.Heading3.RichText
		}
	case "bulleted_list_item":
		if b.Bulleted != nil {
			return b.Bulleted.RichText
		}
	case "numbered_list_item":
		if b.Numbered != nil {
			return b.Numbered.RichText
		}
	}

	return nil
}
