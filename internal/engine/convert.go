package engine

import (
	"strconv"
	"strings"

	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/table"
)

// kindFromType maps a remote property type token to a table column kind.
var kindFromType = map[string]table.Kind{
	remote.TypeTitle:          table.KindTitle,
	remote.TypeRichText:       table.KindText,
	remote.TypeNumber:         table.KindNumber,
	remote.TypeCheckbox:       table.KindCheckbox,
	remote.TypeDate:           table.KindDate,
	remote.TypeSelect:         table.KindSingleSelect,
	remote.TypeMultiSelect:    table.KindMultiSelect,
	remote.TypeStatus:         table.KindStatus,
	remote.TypeURL:            table.KindURL,
	remote.TypeEmail:          table.KindEmail,
	remote.TypePhone:          table.KindPhone,
	remote.TypeRelation:       table.KindRelation,
	remote.TypePeople:         table.KindPeople,
	remote.TypeFiles:          table.KindFiles,
	remote.TypeFormula:        table.KindFormula,
	remote.TypeRollup:         table.KindRollup,
	remote.TypeCreatedTime:    table.KindCreatedTime,
	remote.TypeLastEditedTime: table.KindLastEditedTime,
	remote.TypeCreatedBy:      table.KindCreatedBy,
	remote.TypeLastEditedBy:   table.KindLastEditedBy,
}

// typeFromKind is the reverse mapping, used when creating remote properties.
// Ambiguous or local-only kinds map to rich text.
func typeFromKind(k table.Kind) string {
	for t, kind := range kindFromType {
		if kind == k {
			return t
		}
	}

	return remote.TypeRichText
}

// cellFromValue maps a remote property value to a canonical table cell.
func cellFromValue(kind table.Kind, v remote.Value) table.Cell {
	c := table.Cell{Kind: kind}

	switch kind {
	case table.KindTitle:
		c.Text = remote.Plain(v.Title)

	case table.KindText:
		c.Text = remote.Plain(v.RichText)

	case table.KindNumber:
		if v.Number != nil {
			c.Number = *v.Number
			c.HasNum = true
		}

	case table.KindCheckbox:
		if v.Checkbox != nil {
			c.Checked = *v.Checkbox
		}

	case table.KindDate:
		if v.Date != nil && v.Date.Start != "" {
			c.Date = &table.Date{Start: v.Date.Start, End: v.Date.End}
		}

	case table.KindSingleSelect:
		if v.Select != nil {
			c.Options = []string{v.Select.Name}
		}

	case table.KindStatus:
		if v.Status != nil {
			c.Options = []string{v.Status.Name}
		}

	case table.KindMultiSelect:
		for _, o := range v.MultiSelect {
			c.Options = append(c.Options, o.Name)
		}

	case table.KindURL:
		if v.URL != nil {
			c.Text = *v.URL
		}

	case table.KindEmail:
		if v.Email != nil {
			c.Text = *v.Email
		}

	case table.KindPhone:
		if v.PhoneNumber != nil {
			c.Text = *v.PhoneNumber
		}

	case table.KindRelation:
		for _, ref := range v.Relation {
			c.Refs = append(c.Refs, ref.ID)
		}

	case table.KindPeople:
		for _, u := range v.People {
			c.Refs = append(c.Refs, u.ID)
		}

	case table.KindFiles:
		for _, f := range v.Files {
			if url := f.URL(); url != "" {
				c.Refs = append(c.Refs, url)
			}
		}

	case table.KindFormula:
		c.Text = renderFormula(v.Formula)

	case table.KindRollup:
		c.Text = renderRollup(v.Rollup)

	case table.KindCreatedTime:
		c.Text = v.CreatedTime

	case table.KindLastEditedTime:
		c.Text = v.LastEditedTime

	case table.KindCreatedBy:
		if v.CreatedBy != nil {
			c.Text = v.CreatedBy.ID
		}

	case table.KindLastEditedBy:
		if v.LastEditedBy != nil {
			c.Text = v.LastEditedBy.ID
		}
	}

	return c
}

// valueFromCell maps a table cell to a remote property value for the push
// path. Returns false for read-only kinds, which are never pushed.
func valueFromCell(c table.Cell) (remote.Value, bool) {
	if c.Kind.ReadOnly() {
		return remote.Value{}, false
	}

	v := remote.Value{}

	switch c.Kind {
	case table.KindTitle:
		v.Title = remote.Text(c.Text)

	case table.KindText:
		v.RichText = remote.Text(c.Text)

	case table.KindNumber:
		if c.HasNum {
			n := c.Number
			v.Number = &n
		}

	case table.KindCheckbox:
		checked := c.Checked
		v.Checkbox = &checked

	case table.KindDate:
		if c.Date != nil && c.Date.Start != "" {
			v.Date = &remote.Date{Start: c.Date.Start, End: c.Date.End}
		}

	case table.KindSingleSelect:
		if len(c.Options) > 0 && c.Options[0] != "" {
			v.Select = &remote.Option{Name: c.Options[0]}
		}

	case table.KindStatus:
		if len(c.Options) > 0 && c.Options[0] != "" {
			v.Status = &remote.Option{Name: c.Options[0]}
		}

	case table.KindMultiSelect:
		for _, name := range c.Options {
			if name != "" {
				v.MultiSelect = append(v.MultiSelect, remote.Option{Name: name})
			}
		}

	case table.KindURL:
		if c.Text != "" {
			s := c.Text
			v.URL = &s
		}

	case table.KindEmail:
		if c.Text != "" {
			s := c.Text
			v.Email = &s
		}

	case table.KindPhone:
		if c.Text != "" {
			s := c.Text
			v.PhoneNumber = &s
		}

	case table.KindRelation:
		for _, id := range c.Refs {
			v.Relation = append(v.Relation, remote.PageRef{ID: id})
		}

	case table.KindPeople:
		for _, id := range c.Refs {
			v.People = append(v.People, remote.User{ID: id})
		}

	case table.KindFiles:
		for _, url := range c.Refs {
			name := url
			if i := strings.LastIndexByte(url, '/'); i >= 0 && i+1 < len(url) {
				name = url[i+1:]
			}

			v.Files = append(v.Files, remote.FileRef{
				Name:     name,
				Type:     "external",
				External: &remote.ExternalFile{URL: url},
			})
		}

	default:
		return remote.Value{}, false
	}

	return v, true
}

func renderFormula(f *remote.Formula) string {
	if f == nil {
		return ""
	}

	switch {
	case f.String != nil:
		return *f.String
	case f.Number != nil:
		return strconv.FormatFloat(*f.Number, 'f', -1, 64)
	case f.Boolean != nil:
		return strconv.FormatBool(*f.Boolean)
	case f.Date != nil:
		return f.Date.Start
	default:
		return ""
	}
}

func renderRollup(r *remote.Rollup) string {
	if r == nil {
		return ""
	}

	switch {
	case r.Number != nil:
		return strconv.FormatFloat(*r.Number, 'f', -1, 64)
	case r.Date != nil:
		return r.Date.Start
	default:
		return ""
	}
}
