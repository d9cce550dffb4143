// Package repository implements the Postgres-backed document and audit
// stores. The document store owns the mutable row; the audit store owns the
// append-only history. Neither touches the other's table.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/database/postgres"
)

// ListFilter narrows document listings.
type ListFilter struct {
	Status core.DocumentStatus
	Limit  int
	Offset int
}

// DocumentStore is the mutable per-document state store.
type DocumentStore interface {
	Create(ctx context.Context, doc *core.Document) error
	Get(ctx context.Context, id string) (*core.Document, error)
	// GetOwned returns not-found for foreign documents so IDs cannot be
	// enumerated across owners.
	GetOwned(ctx context.Context, id, ownerID string) (*core.Document, error)
	List(ctx context.Context, ownerID string, filter ListFilter) ([]*core.Document, error)
	Update(ctx context.Context, doc *core.Document) error
}

// PostgresDocumentStore implements DocumentStore on pgx.
type PostgresDocumentStore struct {
	pool   *postgres.Pool
	logger *slog.Logger
}

// NewPostgresDocumentStore builds the store.
func NewPostgresDocumentStore(pool *postgres.Pool, logger *slog.Logger) *PostgresDocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDocumentStore{
		pool:   pool,
		logger: logger.With("component", "document_store"),
	}
}

const documentColumns = `id, owner_id, object_key, bucket, file_size, mime_type,
	original_filename, status, document_type, parsed_data, confidence,
	needs_review, created_at, updated_at, completed_at, reviewed_at`

// Create inserts a new document row.
func (s *PostgresDocumentStore) Create(ctx context.Context, doc *core.Document) error {
	parsed, err := marshalParsedData(doc.ParsedData)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		doc.ID, doc.OwnerID, doc.ObjectKey, doc.Bucket, doc.FileSize, doc.MimeType,
		doc.OriginalFilename, string(doc.Status), docTypePtr(doc.DocumentType), parsed,
		doc.Confidence, doc.NeedsReview, doc.CreatedAt, doc.UpdatedAt,
		doc.CompletedAt, doc.ReviewedAt,
	)
	if err != nil {
		return core.NewError(core.KindDatabase, "insert document", err)
	}
	return nil
}

// Get fetches a document by ID regardless of owner. Pipeline-internal use.
func (s *PostgresDocumentStore) Get(ctx context.Context, id string) (*core.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetOwned fetches a document scoped to its owner.
func (s *PostgresDocumentStore) GetOwned(ctx context.Context, id, ownerID string) (*core.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanDocument(row)
}

// List returns the owner's documents, newest first.
func (s *PostgresDocumentStore) List(ctx context.Context, ownerID string, filter ListFilter) ([]*core.Document, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1`
	args := []any{ownerID}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "list documents", err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.KindDatabase, "list documents", err)
	}
	return docs, nil
}

// Update writes the mutable fields of an existing row. Callers serialize
// updates per document; the pipeline's sequential steps guarantee this.
func (s *PostgresDocumentStore) Update(ctx context.Context, doc *core.Document) error {
	parsed, err := marshalParsedData(doc.ParsedData)
	if err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET
			status = $2, document_type = $3, parsed_data = $4, confidence = $5,
			needs_review = $6, updated_at = $7, completed_at = $8, reviewed_at = $9
		WHERE id = $1`,
		doc.ID, string(doc.Status), docTypePtr(doc.DocumentType), parsed, doc.Confidence,
		doc.NeedsReview, doc.UpdatedAt, doc.CompletedAt, doc.ReviewedAt,
	)
	if err != nil {
		return core.NewError(core.KindDatabase, "update document", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundError("document")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.Document, error) {
	var (
		doc       core.Document
		status    string
		docType   *string
		parsedRaw []byte
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.ObjectKey, &doc.Bucket, &doc.FileSize, &doc.MimeType,
		&doc.OriginalFilename, &status, &docType, &parsedRaw, &doc.Confidence,
		&doc.NeedsReview, &doc.CreatedAt, &doc.UpdatedAt, &doc.CompletedAt, &doc.ReviewedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFoundError("document")
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "scan document", err)
	}

	doc.Status = core.DocumentStatus(status)
	if docType != nil {
		t := core.DocumentType(*docType)
		doc.DocumentType = &t
	}
	if len(parsedRaw) > 0 {
		if err := json.Unmarshal(parsedRaw, &doc.ParsedData); err != nil {
			return nil, core.NewError(core.KindDatabase, "decode parsed_data", err)
		}
	}
	return &doc, nil
}

func marshalParsedData(m core.JSONMap) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, core.NewError(core.KindInternal, "encode parsed_data", err)
	}
	return b, nil
}

func docTypePtr(t *core.DocumentType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}
