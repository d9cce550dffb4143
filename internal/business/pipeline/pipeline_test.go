package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anders-planck/parseur/internal/business/dispatch"
	"github.com/anders-planck/parseur/internal/business/prompts"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/core/rules"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
	"github.com/anders-planck/parseur/internal/infrastructure/repository"
	"github.com/anders-planck/parseur/internal/realtime"
)

// In-memory stores standing in for Postgres.

type memDocumentStore struct {
	mu   sync.Mutex
	docs map[string]*core.Document
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{docs: make(map[string]*core.Document)}
}

func (s *memDocumentStore) Create(ctx context.Context, doc *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *memDocumentStore) Get(ctx context.Context, id string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, core.NotFoundError("document")
	}
	copied := *doc
	return &copied, nil
}

func (s *memDocumentStore) GetOwned(ctx context.Context, id, ownerID string) (*core.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil || doc.OwnerID != ownerID {
		return nil, core.NotFoundError("document")
	}
	return doc, nil
}

func (s *memDocumentStore) List(ctx context.Context, ownerID string, filter repository.ListFilter) ([]*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Document
	for _, doc := range s.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		copied := *doc
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memDocumentStore) Update(ctx context.Context, doc *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return core.NotFoundError("document")
	}
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	records []*core.AuditRecord
}

func (s *memAuditStore) Append(ctx context.Context, rec *core.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, &copied)
	return nil
}

func (s *memAuditStore) ListByDocument(ctx context.Context, documentID string) ([]*core.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.AuditRecord
	for _, rec := range s.records {
		if rec.DocumentID == documentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memAuditStore) Aggregate(ctx context.Context, start, end time.Time, provider string) (*core.UsageAggregate, error) {
	return &core.UsageAggregate{CountByProvider: map[string]int64{}}, nil
}

func (s *memAuditStore) StageMetrics(ctx context.Context, documentID string) ([]*core.StageMetric, error) {
	return nil, nil
}

func (s *memAuditStore) stages(documentID string) []core.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Stage
	for _, rec := range s.records {
		if rec.DocumentID == documentID {
			out = append(out, rec.Stage)
		}
	}
	return out
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (d *fakeDownloader) Download(ctx context.Context, key string) ([]byte, error) {
	return d.data, d.err
}

// fakeDispatcher counts calls and delegates to configurable hooks.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls map[string]int

	classify       func() (*llm.ClassificationResult, error)
	extract        func() (*llm.ExtractionResult, error)
	validate       func() (*llm.ValidationResult, error)
	validateSingle func() (*llm.ValidationResult, error)
	correct        func() (*llm.CorrectionResult, error)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(map[string]int)}
}

func (d *fakeDispatcher) count(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
}

func (d *fakeDispatcher) callCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *fakeDispatcher) Classify(ctx context.Context, req llm.ClassifyRequest, _ dispatch.Strategy, _ dispatch.FanOutContext) (*llm.ClassificationResult, error) {
	d.count("classify")
	return d.classify()
}

func (d *fakeDispatcher) Extract(ctx context.Context, req llm.ExtractRequest, _ dispatch.Strategy, _ dispatch.FanOutContext) (*llm.ExtractionResult, error) {
	d.count("extract")
	return d.extract()
}

func (d *fakeDispatcher) Validate(ctx context.Context, req llm.ValidateRequest, _ dispatch.Strategy, _ dispatch.FanOutContext) (*llm.ValidationResult, error) {
	d.count("validate")
	return d.validate()
}

func (d *fakeDispatcher) ValidateSingle(ctx context.Context, req llm.ValidateRequest) (*llm.ValidationResult, error) {
	d.count("validate_single")
	return d.validateSingle()
}

func (d *fakeDispatcher) Correct(ctx context.Context, req llm.CorrectRequest) (*llm.CorrectionResult, error) {
	d.count("correct")
	return d.correct()
}

type fixture struct {
	pipeline   *Pipeline
	documents  *memDocumentStore
	audits     *memAuditStore
	dispatcher *fakeDispatcher
	job        UploadedEvent
}

func newFixture(t *testing.T, dispatcher *fakeDispatcher) *fixture {
	t.Helper()

	documents := newMemDocumentStore()
	audits := &memAuditStore{}
	bus := realtime.NewEventBus(10, nil, nil)
	publisher := realtime.NewPublisher(bus, nil)

	p, err := New(Config{}, documents, audits, &fakeDownloader{data: []byte("bytes")},
		dispatcher, rules.NewEngine(nil), prompts.NewRegistry(), publisher, nil, nil, nil)
	require.NoError(t, err)

	doc := &core.Document{
		ID:               "doc-1",
		OwnerID:          "user-1",
		ObjectKey:        "documents/user-1/1_invoice.png",
		Bucket:           "documents",
		MimeType:         "image/png",
		FileSize:         5,
		OriginalFilename: "invoice.png",
		Status:           core.StatusProcessing,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, documents.Create(context.Background(), doc))

	return &fixture{
		pipeline:   p,
		documents:  documents,
		audits:     audits,
		dispatcher: dispatcher,
		job: UploadedEvent{
			DocumentID: doc.ID,
			UserID:     doc.OwnerID,
			ObjectKey:  doc.ObjectKey,
			Bucket:     doc.Bucket,
			MimeType:   doc.MimeType,
			FileSize:   doc.FileSize,
		},
	}
}

func happyDispatcher() *fakeDispatcher {
	d := newFakeDispatcher()
	d.classify = func() (*llm.ClassificationResult, error) {
		return &llm.ClassificationResult{
			DocumentType: core.TypeOther,
			Confidence:   0.95,
			CallMeta:     llm.CallMeta{Provider: "anthropic", Model: "m"},
		}, nil
	}
	d.extract = func() (*llm.ExtractionResult, error) {
		fields := make([]llm.ExtractedField, 10)
		data := core.JSONMap{}
		for i := range fields {
			fields[i] = llm.ExtractedField{Name: string(rune('a' + i)), Value: i, Confidence: 0.90}
			data[fields[i].Name] = i
		}
		return &llm.ExtractionResult{
			Fields:     fields,
			Data:       data,
			Confidence: 0.90,
			CallMeta:   llm.CallMeta{Provider: "anthropic", Model: "m"},
		}, nil
	}
	d.validate = func() (*llm.ValidationResult, error) {
		return &llm.ValidationResult{
			IsValid:    true,
			Confidence: 0.85,
			CallMeta:   llm.CallMeta{Provider: "weighted_voting"},
		}, nil
	}
	return d
}

func TestProcessWeightedBaseNeedsReview(t *testing.T) {
	f := newFixture(t, happyDispatcher())

	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsReview, doc.Status)
	require.NotNil(t, doc.Confidence)
	// 0.95*0.10 + 0.90*0.50 + 0.85*0.30 = 0.800, below the 0.95 bar.
	assert.InDelta(t, 0.800, *doc.Confidence, 1e-9)
	assert.True(t, doc.NeedsReview)
	assert.NotNil(t, doc.CompletedAt)
	assert.NotNil(t, doc.ParsedData)

	assert.Equal(t, []core.Stage{
		core.StageClassification, core.StageExtraction,
		core.StageValidation, core.StageFinalize,
	}, f.audits.stages("doc-1"))
}

func TestProcessCorrectionLeadsToCompleted(t *testing.T) {
	d := happyDispatcher()
	d.classify = func() (*llm.ClassificationResult, error) {
		return &llm.ClassificationResult{DocumentType: core.TypeOther, Confidence: 1.0,
			CallMeta: llm.CallMeta{Provider: "anthropic"}}, nil
	}
	d.extract = func() (*llm.ExtractionResult, error) {
		return &llm.ExtractionResult{
			Fields:     []llm.ExtractedField{{Name: "total", Value: -1, Confidence: 1.0}},
			Data:       core.JSONMap{"total": -1},
			Confidence: 1.0,
			CallMeta:   llm.CallMeta{Provider: "anthropic"},
		}, nil
	}
	d.validate = func() (*llm.ValidationResult, error) {
		return &llm.ValidationResult{
			IsValid:    false,
			Confidence: 0.9,
			Issues: []core.ValidationIssue{
				{Field: "total", Issue: "total is negative", Severity: core.SeverityError},
			},
		}, nil
	}
	d.correct = func() (*llm.CorrectionResult, error) {
		return &llm.CorrectionResult{
			CorrectedData: core.JSONMap{"total": 100.0},
			Changes: []llm.FieldChange{
				{Field: "total", OldValue: -1, NewValue: 100.0, Reasoning: "sign flip"},
			},
			Confidence: 1.0,
			CallMeta:   llm.CallMeta{Provider: "anthropic"},
		}, nil
	}
	d.validateSingle = func() (*llm.ValidationResult, error) {
		return &llm.ValidationResult{IsValid: true, Confidence: 1.0,
			CallMeta: llm.CallMeta{Provider: "anthropic"}}, nil
	}

	f := newFixture(t, d)
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, doc.Status)
	require.NotNil(t, doc.Confidence)
	// 1.0*0.10 + 1.0*0.50 + 1.0*0.30 + 1.0*0.10 = 1.0
	assert.InDelta(t, 1.0, *doc.Confidence, 1e-9)
	assert.Equal(t, 100.0, doc.ParsedData["total"])
	assert.False(t, doc.NeedsReview)

	assert.Equal(t, []core.Stage{
		core.StageClassification, core.StageExtraction, core.StageValidation,
		core.StageCorrection, core.StageRevalidation, core.StageFinalize,
	}, f.audits.stages("doc-1"))
}

func TestProcessEmptyExtraction(t *testing.T) {
	d := happyDispatcher()
	d.extract = func() (*llm.ExtractionResult, error) {
		return &llm.ExtractionResult{
			Data:       core.JSONMap{},
			Confidence: 0.05,
			CallMeta:   llm.CallMeta{Provider: "anthropic"},
		}, nil
	}

	f := newFixture(t, d)
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsReview, doc.Status)
	require.NotNil(t, doc.Confidence)
	assert.Zero(t, *doc.Confidence)
	assert.True(t, doc.NeedsReview)

	stages := f.audits.stages("doc-1")
	assert.Contains(t, stages, core.StageClassification)
	assert.Contains(t, stages, core.StageExtraction)
}

func TestProcessCorrectionFailure(t *testing.T) {
	d := happyDispatcher()
	d.validate = func() (*llm.ValidationResult, error) {
		return &llm.ValidationResult{
			IsValid:    false,
			Confidence: 0.9,
			Issues: []core.ValidationIssue{
				{Field: "total", Issue: "unreadable", Severity: core.SeverityError},
			},
		}, nil
	}
	d.correct = func() (*llm.CorrectionResult, error) {
		return nil, core.NewError(core.KindProvider, "correction model unavailable", nil)
	}

	f := newFixture(t, d)
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsReview, doc.Status)
	require.NotNil(t, doc.Confidence)
	assert.LessOrEqual(t, *doc.Confidence, 0.30)
	// Original extraction is preserved.
	assert.NotNil(t, doc.ParsedData)

	assert.NotContains(t, f.audits.stages("doc-1"), core.StageCorrection)
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, happyDispatcher())

	require.NoError(t, f.pipeline.Process(context.Background(), f.job))
	firstStages := f.audits.stages("doc-1")

	// Redelivery: the document is terminal now, nothing reruns.
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	assert.Equal(t, firstStages, f.audits.stages("doc-1"))
	assert.Equal(t, 1, f.dispatcher.callCount("classify"))
	assert.Equal(t, 1, f.dispatcher.callCount("extract"))
	assert.Equal(t, 1, f.dispatcher.callCount("validate"))
}

func TestProcessMemoizedResumeAfterTransientFailure(t *testing.T) {
	d := happyDispatcher()
	failures := 0
	base := d.validate
	d.validate = func() (*llm.ValidationResult, error) {
		if failures == 0 {
			failures++
			return nil, core.NewError(core.KindTimeout, "provider timeout", nil)
		}
		return base()
	}

	f := newFixture(t, d)

	// First run fails at validation with a retryable error.
	err := f.pipeline.Process(context.Background(), f.job)
	require.Error(t, err)
	assert.True(t, core.Retryable(err))

	// Broker redelivers: classify/extract come from the memo, validation
	// runs once more and the document completes its run.
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	assert.Equal(t, 1, f.dispatcher.callCount("classify"))
	assert.Equal(t, 1, f.dispatcher.callCount("extract"))
	assert.Equal(t, 2, f.dispatcher.callCount("validate"))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusNeedsReview, doc.Status)
}

func TestProcessNonRetryableErrorFailsDocument(t *testing.T) {
	d := happyDispatcher()
	d.classify = func() (*llm.ClassificationResult, error) {
		return nil, core.NewError(core.KindAuthentication, "invalid API key", nil)
	}

	f := newFixture(t, d)
	require.NoError(t, f.pipeline.Process(context.Background(), f.job))

	doc, err := f.documents.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, doc.Status)
}

func TestProcessUnknownDocumentIsIgnored(t *testing.T) {
	f := newFixture(t, happyDispatcher())
	err := f.pipeline.Process(context.Background(), UploadedEvent{DocumentID: "ghost"})
	assert.NoError(t, err)
}
