package services

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"tls_portal_go/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignedURLExpiry bounds how long a download link stays valid
const SignedURLExpiry = 15 * time.Minute

// UploadDocumentInput describes one client document upload
type UploadDocumentInput struct {
	TenantID       string
	ClientID       string
	FolderID       string
	MatterID       string
	Category       string
	Description    string
	Tags           []string
	UploadedBy     string
	UploadedByType string
	File           *multipart.FileHeader
}

// DocumentFilter narrows a document listing; empty fields are ignored
type DocumentFilter struct {
	Category       string
	MatterID       string
	UploadedByType string
	FolderID       string
}

// DocumentService couples stored objects with their metadata rows
type DocumentService struct {
	db      *gorm.DB
	storage StorageProvider
	log     *zap.Logger
	audit   *AuditService
}

func NewDocumentService(db *gorm.DB, storage StorageProvider, log *zap.Logger, audit *AuditService) *DocumentService {
	return &DocumentService{db: db, storage: storage, log: log, audit: audit}
}

func (s *DocumentService) Upload(ctx context.Context, in UploadDocumentInput) (*models.Document, error) {
	if in.File == nil {
		return nil, InvalidArgument("file is required")
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = models.DocumentCategoryOther
	}
	if !models.IsValidDocumentCategory(category) {
		return nil, InvalidArgument("invalid document category: %s", category)
	}
	if in.UploadedByType != models.UploadedByClient && in.UploadedByType != models.UploadedByStaff {
		return nil, InvalidArgument("invalid uploader type: %s", in.UploadedByType)
	}

	var folderID *string
	if in.FolderID != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Folder{}).
			Where("id = ? AND tenant_id = ? AND client_id = ?", in.FolderID, in.TenantID, in.ClientID).
			Count(&count).Error; err != nil {
			return nil, Internal(err, "failed to look up folder")
		}
		if count == 0 {
			return nil, NotFound("folder not found")
		}
		folderID = &in.FolderID
	}

	contentType, err := ValidateDocumentUpload(in.File)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:             uuid.New().String(),
		TenantID:       in.TenantID,
		ClientID:       in.ClientID,
		FolderID:       folderID,
		MatterID:       in.MatterID,
		FileName:       in.File.Filename,
		FileType:       contentType,
		FileSize:       in.File.Size,
		Category:       category,
		Description:    in.Description,
		Tags:           in.Tags,
		UploadedBy:     in.UploadedBy,
		UploadedByType: in.UploadedByType,
		Status:         models.DocumentStatusActive,
	}
	doc.StorageKey = DocumentStorageKey(in.TenantID, in.ClientID, doc.ID, in.File.Filename)

	file, err := in.File.Open()
	if err != nil {
		return nil, Internal(err, "failed to open uploaded file")
	}
	defer file.Close()

	result, err := s.storage.UploadReader(ctx, file, doc.StorageKey, contentType, in.File.Size)
	if err != nil {
		return nil, Internal(err, "failed to store document")
	}
	doc.FileSize = result.FileSize

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		// Never leave an object without metadata
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), doc.StorageKey); delErr != nil {
			s.log.Error("Failed to remove orphaned document object",
				zap.String("key", doc.StorageKey), zap.Error(delErr))
		}
		return nil, Internal(err, "failed to save document")
	}

	s.log.Info("Document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("client_id", doc.ClientID),
		zap.String("size", describeSize(doc.FileSize)))
	s.audit.Record(AuditEntry{
		ActorID:      in.UploadedBy,
		ActorRole:    in.UploadedByType,
		TenantID:     in.TenantID,
		ResourceType: "document",
		ResourceID:   doc.ID,
		Description:  doc.FileName,
		Action:       models.AuditActionCreate,
	})
	return doc, nil
}

// List returns a client's documents, newest first
func (s *DocumentService) List(ctx context.Context, tenantID, clientID string, filter DocumentFilter) ([]models.Document, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND client_id = ?", tenantID, clientID)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.MatterID != "" {
		query = query.Where("matter_id = ?", filter.MatterID)
	}
	if filter.UploadedByType != "" {
		query = query.Where("uploaded_by_type = ?", filter.UploadedByType)
	}
	if filter.FolderID != "" {
		query = query.Where("folder_id = ?", filter.FolderID)
	}

	var docs []models.Document
	if err := query.Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, Internal(err, "failed to list documents")
	}
	return docs, nil
}

func (s *DocumentService) Get(ctx context.Context, tenantID, clientID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND client_id = ?", documentID, tenantID, clientID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("document not found")
	}
	if err != nil {
		return nil, Internal(err, "failed to load document")
	}
	return &doc, nil
}

// DownloadURL returns a short-lived link to the document object
func (s *DocumentService) DownloadURL(ctx context.Context, tenantID, clientID, documentID string) (string, error) {
	doc, err := s.Get(ctx, tenantID, clientID, documentID)
	if err != nil {
		return "", err
	}
	url, err := s.storage.GetSignedURL(ctx, doc.StorageKey, SignedURLExpiry)
	if err != nil {
		return "", Internal(err, "failed to create download link")
	}
	return url, nil
}

// OpenObject streams a stored object by key; used by the local-storage download route
func (s *DocumentService) OpenObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Where("storage_key = ?", key).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", NotFound("document not found")
		}
		return nil, "", Internal(err, "failed to load document")
	}
	reader, _, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, "", Internal(err, "failed to read document")
	}
	return reader, doc.FileType, nil
}

// Delete removes the object first; metadata survives a failed object delete
func (s *DocumentService) Delete(ctx context.Context, tenantID, clientID, documentID, actorID string) error {
	doc, err := s.Get(ctx, tenantID, clientID, documentID)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
		s.log.Error("Failed to delete document object",
			zap.String("document_id", doc.ID), zap.Error(err))
		return Internal(err, "failed to delete document")
	}
	if err := s.db.WithContext(ctx).Delete(doc).Error; err != nil {
		return Internal(err, "failed to delete document metadata")
	}

	s.audit.Record(AuditEntry{
		ActorID:      actorID,
		TenantID:     tenantID,
		ResourceType: "document",
		ResourceID:   doc.ID,
		Description:  doc.FileName,
		Action:       models.AuditActionDelete,
	})
	return nil
}

func (s *DocumentService) ListFolders(ctx context.Context, tenantID, clientID string) ([]models.Folder, error) {
	var folders []models.Folder
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND client_id = ?", tenantID, clientID).
		Order("sort_order ASC").
		Find(&folders).Error; err != nil {
		return nil, Internal(err, "failed to list folders")
	}
	return folders, nil
}
