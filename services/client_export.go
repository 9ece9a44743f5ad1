package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"tls_portal_go/models"

	"github.com/xuri/excelize/v2"
)

const clientsSheet = "Clients"

var clientExportHeaders = []string{
	"First Name", "Last Name", "Email", "Mobile", "Address", "City", "State", "Zip Code",
	"Matter Type", "Subdomain", "Portal URL", "Status", "Portal Status", "Source", "Created At",
}

// ImportResult summarises a bulk client import
type ImportResult struct {
	TotalProcessed int      `json:"totalProcessed"`
	SuccessCount   int      `json:"successCount"`
	FailedCount    int      `json:"failedCount"`
	Errors         []string `json:"errors"`
}

// ExportClientsXLSX writes every live client of a tenant to a spreadsheet
func (s *ClientService) ExportClientsXLSX(ctx context.Context, tenantID string) (*bytes.Buffer, error) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&clients).Error; err != nil {
		return nil, Internal(err, "failed to load clients")
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", clientsSheet)

	for i, h := range clientExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(clientsSheet, cell, h)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	lastHeader, _ := excelize.CoordinatesToCellName(len(clientExportHeaders), 1)
	f.SetCellStyle(clientsSheet, "A1", lastHeader, headerStyle)

	for r, c := range clients {
		row := []interface{}{
			c.Profile.FirstName, c.Profile.LastName, c.Profile.Email, c.Profile.Mobile,
			c.Profile.Address, c.Profile.City, c.Profile.State, c.Profile.ZipCode,
			c.Metadata.MatterType, c.Subdomain, c.PortalURL, c.Status, c.PortalStatus,
			c.Metadata.Source, c.CreatedAt.Format("2006-01-02"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(clientsSheet, cell, &row); err != nil {
			return nil, Internal(err, "failed to write client row")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, Internal(err, "failed to write excel buffer")
	}
	return buf, nil
}

// ImportClientsXLSX creates one client per data row of the first sheet using the
// export column layout. Rows fail independently; each created client fires ClientCreated.
func (s *ClientService) ImportClientsXLSX(ctx context.Context, tenantID string, file io.Reader, actorID string) (*ImportResult, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, InvalidArgument("failed to open excel file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, InvalidArgument("invalid excel format: no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, InvalidArgument("failed to read clients sheet")
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, "id = ?", tenantID).Error; err != nil {
		return nil, NotFound("tenant not found")
	}

	result := &ImportResult{Errors: []string{}}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		col := func(n int) string {
			if n < len(row) {
				return strings.TrimSpace(row[n])
			}
			return ""
		}
		if col(0) == "" && col(1) == "" && col(2) == "" {
			continue
		}
		result.TotalProcessed++

		req := IntakeRequest{
			FirstName:  col(0),
			LastName:   col(1),
			Email:      col(2),
			Mobile:     col(3),
			Address:    col(4),
			City:       col(5),
			State:      col(6),
			ZipCode:    col(7),
			MatterType: col(8),
			Source:     models.ClientSourceImport,
		}
		if _, err := s.createForTenant(ctx, &tenant, req, actorID); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", i+1, errorMessage(err)))
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

// errorMessage returns the caller-safe part of err
func errorMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
