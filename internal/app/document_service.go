package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/model"
	"docqa/internal/pkg/extract"
	"docqa/internal/platform/rabbitmq"
	"docqa/internal/rag"
	"docqa/internal/repository"
)

// DocumentStore is the metadata store of document records.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByFile(ctx context.Context, file string) (*model.Document, error)
	ExistsByFile(ctx context.Context, file string) (bool, error)
	ListByRoom(ctx context.Context, roomID string) ([]model.Document, error)
	UpdateStatus(ctx context.Context, file, status string, chunkCount int, lastErr string) error
}

type IndexJobPublisher interface {
	PublishIndexJob(ctx context.Context, job rabbitmq.IndexJob) error
}

type DocumentConfig struct {
	UploadDir        string
	IndexGranularity string
	SharedIndex      string
	IndexingMode     string
	MetadataTimeout  time.Duration
}

type DocumentService struct {
	docs      DocumentStore
	chunker   *rag.Chunker
	indexer   *rag.Indexer
	publisher IndexJobPublisher
	gate      Authorizer
	cfg       DocumentConfig
}

func NewDocumentService(
	docs DocumentStore,
	chunker *rag.Chunker,
	indexer *rag.Indexer,
	publisher IndexJobPublisher,
	gate Authorizer,
	cfg DocumentConfig,
) *DocumentService {
	return &DocumentService{
		docs:      docs,
		chunker:   chunker,
		indexer:   indexer,
		publisher: publisher,
		gate:      gate,
		cfg:       cfg,
	}
}

type UploadInput struct {
	Filename     string
	Content      []byte
	RoomIDs      []string
	RolesAllowed []string
	UsersAllowed []string
	UploadedBy   uint
}

// Upload stores the file and its record, then indexes it inline (sync mode)
// or hands it to the index worker (queue mode). Unsupported files are
// rejected before anything is written.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	file := sanitizeFilename(input.Filename)
	if file == "" || len(input.Content) == 0 {
		return nil, ErrInvalidInput
	}
	if !extract.Supported(file) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotSupported, filepath.Ext(file))
	}

	mctx, cancel := s.metadataContext(ctx)
	exists, err := s.docs.ExistsByFile(mctx, file)
	cancel()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateFile
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	// Stage under a unique name; only the upload that wins the record may
	// take the final path.
	staged, err := stageUpload(s.cfg.UploadDir, file, input.Content)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.cfg.UploadDir, file)

	doc := &model.Document{
		ID:           uuid.NewString(),
		File:         file,
		Filename:     file,
		IndexID:      s.indexFor(file),
		RoomIDs:      normalizeList(input.RoomIDs),
		RolesAllowed: normalizeList(input.RolesAllowed),
		UsersAllowed: normalizeList(input.UsersAllowed),
		Status:       model.DocumentStatusPending,
		UploadedBy:   input.UploadedBy,
	}
	mctx, cancel = s.metadataContext(ctx)
	err = s.docs.Create(mctx, doc)
	cancel()
	if err != nil {
		_ = os.Remove(staged)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateFile
		}
		return nil, err
	}
	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)
		err = fmt.Errorf("save upload failed: %w", err)
		s.markFailed(ctx, doc, err)
		return doc, err
	}

	if s.cfg.IndexingMode == config.IndexingModeQueue && s.publisher != nil {
		if err := s.publisher.PublishIndexJob(ctx, rabbitmq.IndexJob{File: file, Path: path}); err != nil {
			s.markFailed(ctx, doc, err)
			return doc, err
		}
		log.Info().Str("file", file).Msg("index job queued")
		return doc, nil
	}

	if err := s.index(ctx, doc, path); err != nil {
		return doc, err
	}
	return doc, nil
}

// RunIndexJob indexes a previously uploaded file. Used by the index worker.
// Failures that leave the record untouched wrap rabbitmq.ErrRetryJob; any
// other failure marks the record failed.
func (s *DocumentService) RunIndexJob(ctx context.Context, file, path string) error {
	mctx, cancel := s.metadataContext(ctx)
	doc, err := s.docs.GetByFile(mctx, file)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: load document %s: %w", rabbitmq.ErrRetryJob, file, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, file)
	}
	if doc.Status == model.DocumentStatusReady {
		return nil
	}
	if err := s.indexDocument(ctx, doc, path); err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Str("file", file).Msg("index job interrupted")
			return fmt.Errorf("%w: %w", rabbitmq.ErrRetryJob, err)
		}
		s.markFailed(ctx, doc, err)
		return err
	}
	return nil
}

// FailIndexJob marks file failed once its job is dropped for good.
func (s *DocumentService) FailIndexJob(ctx context.Context, file string, cause error) {
	mctx, cancel := s.metadataContext(ctx)
	defer cancel()
	if err := s.docs.UpdateStatus(mctx, file, model.DocumentStatusFailed, 0, cause.Error()); err != nil {
		log.Error().Err(err).Str("file", file).Msg("mark abandoned document failed")
	}
}

// Status returns the record of file if the user may query it.
func (s *DocumentService) Status(ctx context.Context, file string, userID uint) (*model.Document, error) {
	file = sanitizeFilename(file)
	if file == "" || userID == 0 {
		return nil, ErrInvalidInput
	}
	if !s.gate.Authorize(ctx, file, formatUserID(userID)) {
		return nil, ErrUnauthorized
	}
	mctx, cancel := s.metadataContext(ctx)
	doc, err := s.docs.GetByFile(mctx, file)
	cancel()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) index(ctx context.Context, doc *model.Document, path string) error {
	if err := s.indexDocument(ctx, doc, path); err != nil {
		s.markFailed(ctx, doc, err)
		return err
	}
	return nil
}

// indexDocument leaves failure bookkeeping to its caller.
func (s *DocumentService) indexDocument(ctx context.Context, doc *model.Document, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload failed: %w", err)
	}
	text, err := extract.Text(doc.File, data)
	if err != nil {
		return err
	}
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return ErrEmptyDocument
	}

	n, err := s.indexer.Index(ctx, rag.IndexRequest{
		Index: doc.IndexID,
		Meta: rag.DocumentMeta{
			File:         doc.File,
			Filename:     doc.Filename,
			RoomIDs:      doc.RoomIDs,
			RolesAllowed: doc.RolesAllowed,
		},
		Chunks: chunks,
	})
	if err != nil {
		return err
	}

	mctx, cancel := s.metadataContext(context.WithoutCancel(ctx))
	err = s.docs.UpdateStatus(mctx, doc.File, model.DocumentStatusReady, n, "")
	cancel()
	if err != nil {
		// Chunks without a ready record are unreachable; drop them.
		if rmErr := s.indexer.Remove(context.WithoutCancel(ctx), doc.IndexID, doc.File); rmErr != nil {
			log.Error().Err(rmErr).Str("file", doc.File).Msg("remove orphan chunks failed")
		}
		return err
	}
	doc.Status = model.DocumentStatusReady
	doc.ChunkCount = n
	log.Info().Str("file", doc.File).Str("index", doc.IndexID).Int("chunks", n).Msg("document ready")
	return nil
}

func (s *DocumentService) markFailed(ctx context.Context, doc *model.Document, cause error) {
	log.Error().Err(cause).Str("file", doc.File).Str("index", doc.IndexID).Msg("document indexing failed")
	doc.Status = model.DocumentStatusFailed
	doc.ChunkCount = 0
	mctx, cancel := s.metadataContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.docs.UpdateStatus(mctx, doc.File, model.DocumentStatusFailed, 0, cause.Error()); err != nil {
		log.Error().Err(err).Str("file", doc.File).Msg("mark document failed")
	}
}

func (s *DocumentService) indexFor(file string) string {
	if s.cfg.IndexGranularity == config.IndexGranularityShared {
		return s.cfg.SharedIndex
	}
	return file
}

func (s *DocumentService) metadataContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.cfg.MetadataTimeout)
}

func stageUpload(dir, file string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+file+".*.part")
	if err != nil {
		return "", fmt.Errorf("save upload failed: %w", err)
	}
	_, err = f.Write(content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("save upload failed: %w", err)
	}
	return f.Name(), nil
}

// sanitizeFilename reduces a client supplied name to a safe base name.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || strings.HasPrefix(name, "..") {
		return ""
	}
	return name
}
