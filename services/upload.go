package services

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

const MaxUploadSize = 10 * 1024 * 1024 // 10MB

// magic prefixes for formats http.DetectContentType does not recognise precisely
var (
	pdfMagic  = []byte("%PDF")
	zipMagic  = []byte("PK\x03\x04")
	oleMagic  = []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1")
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	gifMagic  = []byte("GIF8")
	jpegMagic = []byte("\xFF\xD8\xFF")
)

// ValidateDocumentUpload checks size, extension and leading bytes of an uploaded
// document and returns the content type to store it with.
func ValidateDocumentUpload(fileHeader *multipart.FileHeader) (string, error) {
	if fileHeader.Size > MaxUploadSize {
		return "", InvalidArgument("file size exceeds the maximum limit of 10MB")
	}
	if fileHeader.Size == 0 {
		return "", InvalidArgument("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	contentType, ok := allowedDocumentTypes[ext]
	if !ok {
		return "", InvalidArgument("file type not allowed. Accepted formats: PDF, DOC, DOCX, JPG, PNG, GIF, TXT")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", Internal(err, "failed to open uploaded file")
	}
	defer file.Close()

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", Internal(err, "failed to read file content")
	}
	head := buffer[:n]

	if !contentMatchesExtension(ext, head) {
		return "", InvalidArgument("file content does not match its %s extension", ext)
	}
	return contentType, nil
}

func contentMatchesExtension(ext string, head []byte) bool {
	switch ext {
	case ".pdf":
		return bytes.HasPrefix(head, pdfMagic)
	case ".docx":
		return bytes.HasPrefix(head, zipMagic)
	case ".doc":
		return bytes.HasPrefix(head, oleMagic)
	case ".png":
		return bytes.HasPrefix(head, pngMagic)
	case ".gif":
		return bytes.HasPrefix(head, gifMagic)
	case ".jpg", ".jpeg":
		return bytes.HasPrefix(head, jpegMagic)
	case ".txt":
		return strings.HasPrefix(http.DetectContentType(head), "text/plain")
	}
	return false
}

// describeSize renders a byte count for log lines
func describeSize(size int64) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%.1fMB", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.1fKB", float64(size)/1024)
	}
	return fmt.Sprintf("%dB", size)
}
