package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basesync/basesync/internal/remote"
)

// maxBlocksPerAppend bounds one append call to the remote store.
const maxBlocksPerAppend = 100

// PageAPI is the slice of the remote client the page sink needs.
type PageAPI interface {
	ResolveDataSource(ctx context.Context, databaseID string) (string, error)
	CreatePage(ctx context.Context, dataSourceID string, properties map[string]remote.Value) (*remote.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]remote.Value) (*remote.Page, error)
	AppendBlockChildren(ctx context.Context, blockID string, blocks []remote.Block) error
}

// RemoteSink publishes execution records as pages in a well-known database.
// One page per run; log lines append to the page body, the run's metadata
// lives in page properties, and Final Status is written last.
type RemoteSink struct {
	api        PageAPI
	databaseID string
	timezone   string
	user       string

	mu           sync.Mutex
	dataSourceID string
}

// NewRemoteSink builds a sink over the given execution-page database.
func NewRemoteSink(api PageAPI, databaseID, timezone, user string) *RemoteSink {
	if timezone == "" {
		timezone = time.Now().Location().String()
	}

	return &RemoteSink{api: api, databaseID: databaseID, timezone: timezone, user: user}
}

func (s *RemoteSink) dataSource(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataSourceID != "" {
		return s.dataSourceID, nil
	}

	id, err := s.api.ResolveDataSource(ctx, s.databaseID)
	if err != nil {
		return "", fmt.Errorf("runlog: resolving execution page database: %w", err)
	}

	s.dataSourceID = id

	return id, nil
}

// CreateRunPage creates the run's execution page with Final Status Running.
func (s *RemoteSink) CreateRunPage(ctx context.Context, rec Record) (string, error) {
	dsID, err := s.dataSource(ctx)
	if err != nil {
		return "", err
	}

	title := fmt.Sprintf("%s %s", rec.ScriptName, rec.StartTime.UTC().Format("2006-01-02 15:04:05"))

	page, err := s.api.CreatePage(ctx, dsID, map[string]remote.Value{
		"Name":            {Type: remote.TypeTitle, Title: remote.Text(title)},
		"Start Time":      {Type: remote.TypeDate, Date: &remote.Date{Start: rec.StartTime.UTC().Format(time.RFC3339)}},
		"Final Status":    {Type: remote.TypeSelect, Select: &remote.Option{Name: string(StatusRunning)}},
		"Script Name":     {Type: remote.TypeRichText, RichText: remote.Text(rec.ScriptName)},
		"Run Id":          {Type: remote.TypeRichText, RichText: remote.Text(rec.RunID)},
		"Environment":     {Type: remote.TypeRichText, RichText: remote.Text(rec.Environment)},
		"Script Id":       {Type: remote.TypeRichText, RichText: remote.Text(rec.ScriptID)},
		"Timezone":        {Type: remote.TypeRichText, RichText: remote.Text(s.timezone)},
		"User Identifier": {Type: remote.TypeRichText, RichText: remote.Text(s.user)},
	})
	if err != nil {
		return "", fmt.Errorf("runlog: creating execution page: %w", err)
	}

	return page.ID, nil
}

// AppendRunLog appends plaintext log lines to the page body as paragraphs.
func (s *RemoteSink) AppendRunLog(ctx context.Context, pageID string, lines []string) error {
	for start := 0; start < len(lines); start += maxBlocksPerAppend {
		end := start + maxBlocksPerAppend
		if end > len(lines) {
			end = len(lines)
		}

		blocks := make([]remote.Block, 0, end-start)
		for _, line := range lines[start:end] {
			blocks = append(blocks, remote.Block{
				Type:      "paragraph",
				Paragraph: &remote.BlockContent{RichText: remote.Text(line)},
			})
		}

		if err := s.api.AppendBlockChildren(ctx, pageID, blocks); err != nil {
			return fmt.Errorf("runlog: appending log lines: %w", err)
		}
	}

	return nil
}

// FinalizeRunPage writes the summary and then the Final Status property.
// Status goes last so a non-Running page can be read as complete.
func (s *RemoteSink) FinalizeRunPage(ctx context.Context, pageID string, rec Record) error {
	summary := rec.Summary
	if summary != "" {
		if err := s.AppendRunLog(ctx, pageID, []string{summary}); err != nil {
			return err
		}
	}

	props := map[string]remote.Value{
		"End Time": {Type: remote.TypeDate, Date: &remote.Date{Start: rec.EndTime.UTC().Format(time.RFC3339)}},
	}

	if _, err := s.api.UpdatePage(ctx, pageID, props); err != nil {
		return fmt.Errorf("runlog: writing end time: %w", err)
	}

	if _, err := s.api.UpdatePage(ctx, pageID, map[string]remote.Value{
		"Final Status": {Type: remote.TypeSelect, Select: &remote.Option{Name: string(rec.Status)}},
	}); err != nil {
		return fmt.Errorf("runlog: writing final status: %w", err)
	}

	return nil
}
