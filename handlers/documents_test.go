package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n%%EOF\n")

func (s *testServer) upload(t *testing.T, path, token, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestDocumentHandlers(t *testing.T) {
	s := newTestServer(t)
	client := s.createClient(t, "smit0000")
	other := s.createClient(t, "smit0001")
	token := s.login(t, "jane@example.com", models.IdentityClaims{
		Role: models.RoleClient, TenantID: s.tenant.ID, ClientID: client.ID, Subdomain: client.Subdomain,
	})
	base := "/api/clients/" + s.tenant.ID + "/" + client.ID

	var doc models.Document
	t.Run("Upload", func(t *testing.T) {
		rec := s.upload(t, base+"/documents", token, "closing.pdf", samplePDF, map[string]string{
			"category": "contract",
			"tags":     "closing, signed ,",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &doc)
		assert.Equal(t, "closing.pdf", doc.FileName)
		assert.Equal(t, "application/pdf", doc.FileType)
		assert.Equal(t, models.UploadedByClient, doc.UploadedByType)
		assert.Equal(t, []string{"closing", "signed"}, doc.Tags)
	})

	t.Run("Content must match extension", func(t *testing.T) {
		rec := s.upload(t, base+"/documents", token, "fake.pdf", []byte("just text"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, base+"/documents", nil, token)
		require.Equal(t, http.StatusOK, rec.Code)
		var docs []models.Document
		decode(t, rec, &docs)
		require.Len(t, docs, 1)
		assert.Equal(t, doc.ID, docs[0].ID)
	})

	t.Run("Download through signed link", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, base+"/documents/"+doc.ID+"/download", nil, token)
		require.Equal(t, http.StatusFound, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(location.Path, "/files/tenants/"+s.tenant.ID+"/clients/"+client.ID+"/"))

		rec = s.do(t, http.MethodGet, location.Path, nil, token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, samplePDF, rec.Body.Bytes())
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("Another client's routes are forbidden", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/clients/"+s.tenant.ID+"/"+other.ID+"/documents", nil, token)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = s.do(t, http.MethodGet, "/files/tenants/"+s.tenant.ID+"/clients/"+other.ID+"/documents/x/y.pdf", nil, token)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Malformed file key", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/files/etc/passwd", nil, token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, base+"/documents/"+doc.ID, nil, token)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodGet, base+"/documents/"+doc.ID+"/download", nil, token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, base+"/folders", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
