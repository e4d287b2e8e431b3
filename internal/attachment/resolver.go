package attachment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Kind values for resolved attachments.
const (
	KindImage    = "image"
	KindDocument = "document"
)

// Descriptor is the enriched view of an uploaded attachment: where it
// lives, what it is, and any text already extracted from it. Text
// extraction itself happens upstream; we only read the result.
type Descriptor struct {
	PublicID      string `json:"public_id"`
	URL           string `json:"url"`
	Kind          string `json:"kind"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// Resolver turns public attachment ids into descriptors and links
// them to persisted messages. Callers treat every method as
// best-effort.
type Resolver interface {
	Resolve(ctx context.Context, publicIDs []string) ([]Descriptor, error)
	Link(ctx context.Context, messageID int, publicIDs []string) error
}

type SQLResolver struct {
	db *sql.DB
}

func NewSQLResolver(db *sql.DB) *SQLResolver {
	return &SQLResolver{db: db}
}

// placeholders renders "$start, $start+1, ..." for n values.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Resolve returns descriptors for the known ids, in input order.
// Unknown ids are silently skipped.
func (r *SQLResolver) Resolve(ctx context.Context, publicIDs []string) ([]Descriptor, error) {
	if len(publicIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT public_id, url, kind, extracted_text
		FROM attachments WHERE public_id IN (%s)
	`, placeholders(1, len(publicIDs)))
	rows, err := r.db.QueryContext(ctx, query, toArgs(publicIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Descriptor, len(publicIDs))
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.PublicID, &d.URL, &d.Kind, &d.ExtractedText); err != nil {
			return nil, err
		}
		byID[d.PublicID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Descriptor, 0, len(publicIDs))
	for _, id := range publicIDs {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Link points the attachment rows at the message that carried them.
func (r *SQLResolver) Link(ctx context.Context, messageID int, publicIDs []string) error {
	if len(publicIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE attachments SET message_id = $1 WHERE public_id IN (%s)`,
		placeholders(2, len(publicIDs)),
	)
	args := append([]any{messageID}, toArgs(publicIDs)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("link attachments: %w", err)
	}
	return nil
}
