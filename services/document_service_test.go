package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStorageProvider is a mock implementation of StorageProvider
type MockStorageProvider struct {
	mock.Mock
}

func (m *MockStorageProvider) UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error) {
	args := m.Called(ctx, reader, key, contentType, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StorageResult), args.Error(1)
}

func (m *MockStorageProvider) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorageProvider) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

func (m *MockStorageProvider) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	args := m.Called(ctx, key, expiration)
	return args.String(0), args.Error(1)
}

func pdfContent() []byte {
	return append([]byte("%PDF-1.4\n"), make([]byte, 64)...)
}

func TestDocumentService_Upload(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	ctx := context.Background()

	t.Run("Stores object then metadata", func(t *testing.T) {
		storage := new(MockStorageProvider)
		svc := NewDocumentService(db, storage, zap.NewNop(), nil)
		content := pdfContent()

		storage.On("UploadReader", mock.Anything, mock.Anything,
			mock.MatchedBy(func(key string) bool {
				return strings.HasPrefix(key, "tenants/"+tenant.ID+"/clients/"+client.ID+"/documents/")
			}),
			"application/pdf", int64(len(content)),
		).Return(&StorageResult{FileSize: int64(len(content)), MimeType: "application/pdf"}, nil)

		doc, err := svc.Upload(ctx, UploadDocumentInput{
			TenantID:       tenant.ID,
			ClientID:       client.ID,
			Category:       models.DocumentCategoryContract,
			UploadedBy:     "identity-1",
			UploadedByType: models.UploadedByClient,
			File:           createMockFileHeader(t, "Purchase Agreement.pdf", content),
		})
		require.NoError(t, err)
		assert.Equal(t, DocumentStorageKey(tenant.ID, client.ID, doc.ID, "Purchase Agreement.pdf"), doc.StorageKey)

		var stored models.Document
		require.NoError(t, db.First(&stored, "id = ?", doc.ID).Error)
		assert.Equal(t, "Purchase Agreement.pdf", stored.FileName)
		storage.AssertExpectations(t)
	})

	t.Run("Rejects unknown category before storing", func(t *testing.T) {
		storage := new(MockStorageProvider)
		svc := NewDocumentService(db, storage, zap.NewNop(), nil)

		_, err := svc.Upload(ctx, UploadDocumentInput{
			TenantID:       tenant.ID,
			ClientID:       client.ID,
			Category:       "memes",
			UploadedByType: models.UploadedByClient,
			File:           createMockFileHeader(t, "a.pdf", pdfContent()),
		})
		assert.True(t, IsKind(err, KindInvalidArgument))
		storage.AssertNotCalled(t, "UploadReader", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Folder of another client is not found", func(t *testing.T) {
		other := createTestClient(t, db, tenant.ID, "smit0001")
		folder := models.Folder{TenantID: tenant.ID, ClientID: other.ID, Name: "Contracts", Type: "contracts", SortOrder: 1}
		require.NoError(t, db.Create(&folder).Error)

		svc := NewDocumentService(db, new(MockStorageProvider), zap.NewNop(), nil)
		_, err := svc.Upload(ctx, UploadDocumentInput{
			TenantID:       tenant.ID,
			ClientID:       client.ID,
			FolderID:       folder.ID,
			UploadedByType: models.UploadedByStaff,
			File:           createMockFileHeader(t, "a.pdf", pdfContent()),
		})
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestDocumentService_UploadRemovesObjectWhenMetadataFails(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	require.NoError(t, db.Migrator().DropTable(&models.Document{}))

	storage := new(MockStorageProvider)
	svc := NewDocumentService(db, storage, zap.NewNop(), nil)
	storage.On("UploadReader", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&StorageResult{FileSize: 73}, nil)
	storage.On("Delete", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Upload(context.Background(), UploadDocumentInput{
		TenantID:       tenant.ID,
		ClientID:       client.ID,
		UploadedByType: models.UploadedByClient,
		File:           createMockFileHeader(t, "a.pdf", pdfContent()),
	})
	assert.True(t, IsKind(err, KindInternal))
	storage.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
}

func createTestDocument(t *testing.T, svc *DocumentService, tenantID, clientID string, doc models.Document) *models.Document {
	t.Helper()
	doc.TenantID = tenantID
	doc.ClientID = clientID
	if doc.FileName == "" {
		doc.FileName = "file.pdf"
	}
	doc.FileType = "application/pdf"
	doc.FileSize = 10
	if doc.Category == "" {
		doc.Category = models.DocumentCategoryOther
	}
	if doc.UploadedByType == "" {
		doc.UploadedByType = models.UploadedByClient
	}
	doc.UploadedBy = "identity-1"
	doc.StorageKey = "tenants/" + tenantID + "/clients/" + clientID + "/documents/" + doc.FileName
	doc.Status = models.DocumentStatusActive
	require.NoError(t, svc.db.Create(&doc).Error)
	return &doc
}

func TestDocumentService_ListFilters(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	svc := NewDocumentService(db, new(MockStorageProvider), zap.NewNop(), nil)
	ctx := context.Background()

	createTestDocument(t, svc, tenant.ID, client.ID, models.Document{FileName: "old.pdf", Category: models.DocumentCategoryContract, MatterID: "m1"})
	time.Sleep(10 * time.Millisecond)
	createTestDocument(t, svc, tenant.ID, client.ID, models.Document{FileName: "new.pdf", Category: models.DocumentCategoryEvidence, UploadedByType: models.UploadedByStaff})

	all, err := svc.List(ctx, tenant.ID, client.ID, DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new.pdf", all[0].FileName)

	contracts, err := svc.List(ctx, tenant.ID, client.ID, DocumentFilter{Category: models.DocumentCategoryContract})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "old.pdf", contracts[0].FileName)

	byMatter, err := svc.List(ctx, tenant.ID, client.ID, DocumentFilter{MatterID: "m1"})
	require.NoError(t, err)
	assert.Len(t, byMatter, 1)

	byStaff, err := svc.List(ctx, tenant.ID, client.ID, DocumentFilter{UploadedByType: models.UploadedByStaff})
	require.NoError(t, err)
	assert.Len(t, byStaff, 1)

	otherClient, err := svc.List(ctx, tenant.ID, "someone-else", DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, otherClient)
}

func TestDocumentService_DownloadURL(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	storage := new(MockStorageProvider)
	svc := NewDocumentService(db, storage, zap.NewNop(), nil)
	doc := createTestDocument(t, svc, tenant.ID, client.ID, models.Document{})

	storage.On("GetSignedURL", mock.Anything, doc.StorageKey, SignedURLExpiry).Return("https://signed.example.com/x", nil)

	url, err := svc.DownloadURL(context.Background(), tenant.ID, client.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com/x", url)

	_, err = svc.DownloadURL(context.Background(), tenant.ID, client.ID, "missing")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestDocumentService_Delete(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	ctx := context.Background()

	t.Run("Object delete failure keeps metadata", func(t *testing.T) {
		storage := new(MockStorageProvider)
		svc := NewDocumentService(db, storage, zap.NewNop(), nil)
		doc := createTestDocument(t, svc, tenant.ID, client.ID, models.Document{FileName: "keep.pdf"})
		storage.On("Delete", mock.Anything, doc.StorageKey).Return(errors.New("bucket unavailable"))

		err := svc.Delete(ctx, tenant.ID, client.ID, doc.ID, "staff-1")
		assert.True(t, IsKind(err, KindInternal))

		var count int64
		db.Model(&models.Document{}).Where("id = ?", doc.ID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Removes object and metadata", func(t *testing.T) {
		storage := new(MockStorageProvider)
		svc := NewDocumentService(db, storage, zap.NewNop(), nil)
		doc := createTestDocument(t, svc, tenant.ID, client.ID, models.Document{FileName: "gone.pdf"})
		storage.On("Delete", mock.Anything, doc.StorageKey).Return(nil)

		require.NoError(t, svc.Delete(ctx, tenant.ID, client.ID, doc.ID, "staff-1"))

		var count int64
		db.Model(&models.Document{}).Where("id = ?", doc.ID).Count(&count)
		assert.Zero(t, count)
		storage.AssertExpectations(t)
	})
}

func TestDocumentService_ListFolders(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	client := createTestClient(t, db, tenant.ID, "smit0000")
	svc := NewDocumentService(db, new(MockStorageProvider), zap.NewNop(), nil)

	for i := len(models.DefaultFolders) - 1; i >= 0; i-- {
		f := models.DefaultFolders[i]
		f.TenantID = tenant.ID
		f.ClientID = client.ID
		require.NoError(t, db.Create(&f).Error)
	}

	folders, err := svc.ListFolders(context.Background(), tenant.ID, client.ID)
	require.NoError(t, err)
	require.Len(t, folders, 4)
	assert.Equal(t, "Contracts", folders[0].Name)
	assert.Equal(t, "Financial Records", folders[3].Name)
}
