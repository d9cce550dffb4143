// Package core contains the domain model shared by every layer of the
// document processing service: documents, audit records, validation issues
// and the typed error kinds the API maps onto HTTP responses.
package core

import (
	"time"
)

// DocumentStatus represents the processing state of a document.
type DocumentStatus string

const (
	StatusUploading   DocumentStatus = "UPLOADING"
	StatusProcessing  DocumentStatus = "PROCESSING"
	StatusNeedsReview DocumentStatus = "NEEDS_REVIEW"
	StatusCompleted   DocumentStatus = "COMPLETED"
	StatusFailed      DocumentStatus = "FAILED"
	StatusArchived    DocumentStatus = "ARCHIVED"
)

// Valid reports whether the status is one of the known states.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusNeedsReview,
		StatusCompleted, StatusFailed, StatusArchived:
		return true
	}
	return false
}

// DocumentType classifies the semantic kind of an uploaded document.
type DocumentType string

const (
	TypeInvoice       DocumentType = "INVOICE"
	TypeReceipt       DocumentType = "RECEIPT"
	TypePayslip       DocumentType = "PAYSLIP"
	TypeBankStatement DocumentType = "BANK_STATEMENT"
	TypeTaxForm       DocumentType = "TAX_FORM"
	TypeContract      DocumentType = "CONTRACT"
	TypeOther         DocumentType = "OTHER"
)

// KnownDocumentTypes lists every supported document type.
var KnownDocumentTypes = []DocumentType{
	TypeInvoice, TypeReceipt, TypePayslip, TypeBankStatement,
	TypeTaxForm, TypeContract, TypeOther,
}

// ParseDocumentType normalizes a model-reported type string. Unknown values
// fall back to OTHER so a sloppy model answer never breaks the pipeline.
func ParseDocumentType(s string) DocumentType {
	t := DocumentType(s)
	for _, known := range KnownDocumentTypes {
		if t == known {
			return known
		}
	}
	return TypeOther
}

// Document is one uploaded file and its processing state.
//
// Invariants maintained by the stores and the pipeline:
//   - COMPLETED implies ParsedData != nil and CompletedAt != nil
//   - NEEDS_REVIEW implies ParsedData != nil and NeedsReview == true
//   - only the owner may read or mutate the row
type Document struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// Object store references
	ObjectKey        string `json:"object_key"`
	Bucket           string `json:"bucket"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	OriginalFilename string `json:"original_filename"`

	Status       DocumentStatus `json:"status"`
	DocumentType *DocumentType  `json:"document_type,omitempty"`
	ParsedData   JSONMap        `json:"parsed_data,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	NeedsReview  bool           `json:"needs_review"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

// Snapshot returns the event payload view of the document used by the
// realtime fan-out. Timestamps are formatted here as RFC 3339 strings in UTC.
func (d *Document) Snapshot() map[string]any {
	snap := map[string]any{
		"id":         d.ID,
		"status":     string(d.Status),
		"filename":   d.OriginalFilename,
		"created_at": d.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if d.DocumentType != nil {
		snap["document_type"] = string(*d.DocumentType)
	}
	if d.Confidence != nil {
		snap["confidence"] = *d.Confidence
	}
	if d.CompletedAt != nil {
		snap["completed_at"] = d.CompletedAt.UTC().Format(time.RFC3339)
	}
	return snap
}

// Terminal reports whether the document reached a final pipeline state.
func (d *Document) Terminal() bool {
	switch d.Status {
	case StatusCompleted, StatusNeedsReview, StatusFailed, StatusArchived:
		return true
	}
	return false
}

// Retryable reports whether a user may re-enqueue the document.
func (d *Document) Retryable() bool {
	return d.Status == StatusFailed || d.Status == StatusNeedsReview
}
