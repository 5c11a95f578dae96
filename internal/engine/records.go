package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/basesync/basesync/internal/config"
	"github.com/basesync/basesync/internal/record"
	"github.com/basesync/basesync/internal/remote"
	"github.com/basesync/basesync/internal/state"
	"github.com/basesync/basesync/internal/table"
)

// syncRecords keeps each row's record file aligned with its remote page
// body. File names derive from the title; collision suffixes are assigned
// once and remembered so they stay stable across runs.
//
// prevSync holds each row's last-sync time as of the start of the run.
// Export refreshes row.LastSync for any remotely edited row before this
// step runs, which would mask body-only edits; change detection here must
// compare against the pre-run baseline.
func (e *Engine) syncRecords(ctx context.Context, databaseID string, tbl *table.Table, pages []remote.Page, folder string, prevSync map[string]time.Time) (RecordStats, error) {
	var stats RecordStats

	titleCol := tbl.TitleColumn()
	if titleCol == "" {
		return stats, nil
	}

	pageByID := make(map[string]*remote.Page, len(pages))
	for i := range pages {
		pageByID[pages[i].ID] = &pages[i]
	}

	for i := range tbl.Rows {
		row := &tbl.Rows[i]

		title := row.Title(titleCol)
		if title == "" {
			// A record file exists only once the row has a title.
			continue
		}

		base, renamed, err := e.resolveFileBase(ctx, databaseID, row, title, folder)
		if err != nil {
			return stats, err
		}

		if renamed {
			stats.Updated++
		}

		path := filepath.Join(folder, base+record.Extension)

		var page *remote.Page
		if row.RowKey != "" {
			page = pageByID[row.RowKey]
		}

		baseline := row.LastSync
		if ts, ok := prevSync[row.RowKey]; ok {
			baseline = ts
		}

		action, err := e.syncRecordContent(ctx, databaseID, tbl, row, page, path, baseline)
		if err != nil {
			e.recordError(Issue{Database: databaseID, Component: "records", Row: row.RowKey,
				Kind: classify(err), Message: err.Error()})

			continue
		}

		switch action {
		case recordMaterialized:
			stats.Materialized++
		case recordUpdated:
			stats.Updated++
		}
	}

	return stats, nil
}

type recordAction int

const (
	recordUntouched recordAction = iota
	recordMaterialized
	recordUpdated
)

// syncRecordContent applies the bidirectional content policy for one row's
// file. The page may be nil for rows that have not been pushed yet; those
// get a file from table state alone.
func (e *Engine) syncRecordContent(ctx context.Context, databaseID string, tbl *table.Table, row *table.Row, page *remote.Page, path string, baseline time.Time) (recordAction, error) {
	info, statErr := os.Stat(path)
	fileExists := statErr == nil

	if statErr != nil && !isNotExist(statErr) {
		return recordUntouched, fmt.Errorf("engine: checking record file: %w", statErr)
	}

	if page == nil {
		if fileExists {
			return recordUntouched, nil
		}

		if err := e.writeRecordFile(tbl, row, nil, path); err != nil {
			return recordUntouched, err
		}

		return recordMaterialized, nil
	}

	remoteChanged := page.LastEditedTime.After(baseline)
	localChanged := fileExists && info.ModTime().After(baseline)

	switch {
	case !fileExists:
		blocks, err := e.api.ListBlockChildren(ctx, page.ID)
		if err != nil {
			return recordUntouched, err
		}

		if err := e.writeRecordFile(tbl, row, blocks, path); err != nil {
			return recordUntouched, err
		}

		row.LastSync = e.runStart

		return recordMaterialized, nil

	case remoteChanged && !localChanged:
		return e.pullRecord(ctx, tbl, row, page, path)

	case localChanged && !remoteChanged:
		return e.pushRecord(ctx, row, page, path)

	case localChanged && remoteChanged:
		return e.resolveRecordConflict(ctx, databaseID, tbl, row, page, path)

	default:
		return recordUntouched, nil
	}
}

// pullRecord rewrites the file from the remote page body, skipping the
// write when nothing actually changed.
func (e *Engine) pullRecord(ctx context.Context, tbl *table.Table, row *table.Row, page *remote.Page, path string) (recordAction, error) {
	blocks, err := e.api.ListBlockChildren(ctx, page.ID)
	if err != nil {
		return recordUntouched, err
	}

	fresh := e.buildRecordFile(tbl, row, blocks)

	if data, readErr := os.ReadFile(path); readErr == nil {
		if existing, parseErr := record.Parse(data); parseErr == nil && record.BodyEqual(existing, fresh) {
			return recordUntouched, nil
		}
	}

	if err := e.writeFile(path, fresh.Render()); err != nil {
		return recordUntouched, err
	}

	row.LastSync = e.runStart

	return recordUpdated, nil
}

// pushRecord pushes the file body over the remote page content.
func (e *Engine) pushRecord(ctx context.Context, row *table.Row, page *remote.Page, path string) (recordAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return recordUntouched, fmt.Errorf("engine: reading record file: %w", err)
	}

	parsed, err := record.Parse(data)
	if err != nil {
		return recordUntouched, err
	}

	if e.dryRun {
		return recordUpdated, nil
	}

	if err := e.api.ReplaceBlockChildren(ctx, page.ID, bodyToBlocks(parsed.Body)); err != nil {
		return recordUntouched, err
	}

	// Pin the mtime so an untouched file does not look locally edited on
	// the next run.
	os.Chtimes(path, e.runStart, e.runStart)
	row.LastSync = e.runStart

	return recordUpdated, nil
}

// resolveRecordConflict applies the conflict policy to a file both sides
// changed.
func (e *Engine) resolveRecordConflict(ctx context.Context, databaseID string, tbl *table.Table, row *table.Row, page *remote.Page, path string) (recordAction, error) {
	policy := e.cfg.PolicyFor(databaseID)

	winner := "remote"
	if policy == config.PolicyLocalWins {
		winner = "local"
	}

	e.recordWarning(Issue{
		Database:  databaseID,
		Component: "records",
		Row:       row.RowKey,
		Kind:      KindInvariant,
		Message:   fmt.Sprintf("record content changed on both sides, %s wins by policy %s", winner, policy),
	})

	if !e.dryRun {
		if _, err := e.store.RecordConflict(ctx, state.Conflict{
			DatabaseID: databaseID,
			RowKey:     row.RowKey,
			Component:  "content",
			Policy:     policy,
			Winner:     winner,
			DetectedAt: e.runStart,
		}); err != nil {
			e.logger.Warn("recording conflict", slog.Any("error", err))
		}
	}

	if policy == config.PolicyLocalWins {
		return e.pushRecord(ctx, row, page, path)
	}

	return e.pullRecord(ctx, tbl, row, page, path)
}

// suffixRe matches the stable collision suffix at the end of a file base.
var suffixRe = regexp.MustCompile(` \((\d+)\)$`)

// resolveFileBase returns the row's file base name, assigning one on first
// contact and renaming the file when the title changed. The assignment is
// remembered so suffixes survive across runs.
func (e *Engine) resolveFileBase(ctx context.Context, databaseID string, row *table.Row, title, folder string) (string, bool, error) {
	sanitized := record.SanitizeTitle(title)

	stored := ""

	if row.RowKey != "" {
		var err error

		stored, err = e.store.GetRecordName(ctx, databaseID, row.RowKey)
		if err != nil {
			return "", false, err
		}
	}

	if stored != "" && suffixRe.ReplaceAllString(stored, "") == sanitized {
		return stored, false, nil
	}

	base, err := e.chooseBase(ctx, databaseID, sanitized, folder)
	if err != nil {
		return "", false, err
	}

	renamed := false

	if stored != "" && stored != base {
		oldPath := filepath.Join(folder, stored+record.Extension)

		if _, statErr := os.Stat(oldPath); statErr == nil && !e.dryRun {
			if err := os.Rename(oldPath, filepath.Join(folder, base+record.Extension)); err != nil {
				return "", false, fmt.Errorf("engine: renaming record file: %w", err)
			}

			renamed = true

			e.logger.Info("record file renamed",
				slog.String("component", "records"),
				slog.String("from", stored),
				slog.String("to", base),
			)
		}
	}

	if row.RowKey != "" && !e.dryRun {
		if err := e.store.SetRecordName(ctx, databaseID, row.RowKey, base); err != nil {
			return "", false, err
		}
	}

	return base, renamed, nil
}

// chooseBase picks the lowest unused collision suffix for a sanitized title
// within a folder. Both remembered assignments and stray on-disk files
// count as taken.
func (e *Engine) chooseBase(ctx context.Context, databaseID, sanitized, folder string) (string, error) {
	used, err := e.store.NamesInUse(ctx, databaseID)
	if err != nil {
		return "", err
	}

	for n := 1; ; n++ {
		candidate := sanitized
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)", sanitized, n)
		}

		if used[candidate] {
			continue
		}

		if _, statErr := os.Stat(filepath.Join(folder, candidate+record.Extension)); statErr == nil {
			continue
		}

		return candidate, nil
	}
}

// writeRecordFile renders and writes a row's record file.
func (e *Engine) writeRecordFile(tbl *table.Table, row *table.Row, blocks []remote.Block, path string) error {
	return e.writeFile(path, e.buildRecordFile(tbl, row, blocks).Render())
}

// writeFile writes data and pins the mtime to the run start so the file is
// not mistaken for a local edit next run.
func (e *Engine) writeFile(path string, data []byte) error {
	if e.dryRun {
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("engine: writing record file: %w", err)
	}

	os.Chtimes(path, e.runStart, e.runStart)

	return nil
}

// buildRecordFile assembles the metadata block and body for a row.
func (e *Engine) buildRecordFile(tbl *table.Table, row *table.Row, blocks []remote.Block) *record.File {
	f := record.NewFile()
	f.SetMeta(record.MetaRowKey, row.RowKey)

	lastSync := row.LastSync
	if lastSync.IsZero() {
		lastSync = e.runStart
	}

	f.SetMeta(record.MetaLastSync, lastSync.UTC().Format(time.RFC3339))

	if titleCol := tbl.TitleColumn(); titleCol != "" {
		f.SetMeta("title", row.Title(titleCol))
	}

	for _, col := range tbl.Columns {
		if col.Kind != table.KindSingleSelect && col.Kind != table.KindStatus {
			continue
		}

		if v := row.Cells[col.Name].Encode(); v != "" {
			f.SetMeta(col.Name, v)
		}
	}

	f.Body = blocksToBody(blocks)

	return f
}

// blocksToBody converts remote page blocks to record body blocks.
func blocksToBody(blocks []remote.Block) []record.Block {
	var body []record.Block

	for _, b := range blocks {
		text := remote.Plain(b.Content())

		var t record.BlockType

		switch b.Type {
		case "heading_1":
			t = record.BlockHeading1
		case "heading_2":
			t = record.BlockHeading2
		case "heading_3":
			t = record.BlockHeading3
		case "bulleted_list_item":
			t = record.BlockBullet
		case "numbered_list_item":
			t = record.BlockNumbered
		case "paragraph":
			t = record.BlockParagraph
		default:
			if text == "" {
				continue
			}

			t = record.BlockParagraph
		}

		if text == "" && t == record.BlockParagraph {
			continue
		}

		body = append(body, record.Block{Type: t, Text: text})
	}

	return body
}

// bodyToBlocks converts record body blocks back to remote page blocks.
func bodyToBlocks(body []record.Block) []remote.Block {
	blocks := make([]remote.Block, 0, len(body))

	for _, blk := range body {
		content := &remote.BlockContent{RichText: remote.Text(blk.Text)}

		switch blk.Type {
		case record.BlockHeading1:
			blocks = append(blocks, remote.Block{Type: "heading_1", Heading1: content})
		case record.BlockHeading2:
			blocks = append(blocks, remote.Block{Type: "heading_2", Heading2: content})
		case record.BlockHeading3:
			blocks = append(blocks, remote.Block{Type: "heading_3", Heading3: content})
		case record.BlockBullet:
			blocks = append(blocks, remote.Block{Type: "bulleted_list_item", Bulleted: content})
		case record.BlockNumbered:
			blocks = append(blocks, remote.Block{Type: "numbered_list_item", Numbered: content})
		default:
			blocks = append(blocks, remote.Block{Type: "paragraph", Paragraph: content})
		}
	}

	return blocks
}
