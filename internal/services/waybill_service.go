package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/pkg/errors"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/models"
	"delivery-backend/internal/timeutil"
)

// WaybillService renders the printable sheet that travels with a delivery.
type WaybillService struct {
	Deliveries *DeliveryService
	Requests   RequestStore
}

func NewWaybillService(deliveries *DeliveryService, requests RequestStore) *WaybillService {
	return &WaybillService{Deliveries: deliveries, Requests: requests}
}

// Render returns the PDF waybill for a delivery the caller can see, with the
// bound request's items when there is one.
func (s *WaybillService) Render(ctx context.Context, caller models.Caller, id int) (*models.Delivery, []byte, error) {
	d, err := s.Deliveries.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}

	var req *models.DeliveryRequest
	if d.RequestID != nil {
		req, err = s.Requests.Get(ctx, *d.RequestID)
		if err != nil {
			return nil, nil, storeError(err, "request")
		}
	}

	pdf, err := buildWaybill(d, req)
	if err != nil {
		return nil, nil, apperr.Internal(err, false)
	}
	return d, pdf, nil
}

func buildWaybill(d *models.Delivery, req *models.DeliveryRequest) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, "Delivery Waybill", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Printed: %s", timeutil.Format(timeutil.Now(), timeutil.DisplayLayout)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(190, 14, d.TrackingNumber, "1", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, "Recipient", "1", 1, "L", true, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 7, "Name: "+d.RecipientName, "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, "Phone: "+deref(d.RecipientPhone), "RB", 1, "L", false, 0, "")
	pdf.MultiCell(190, 7, "Address: "+d.RecipientAddress, "1", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, "Shipment", "1", 1, "L", true, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 7, "Branch: "+d.BranchName, "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, "Status: "+d.Status, "RB", 1, "L", false, 0, "")
	scheduled := "-"
	if d.ScheduledDate != nil {
		scheduled = d.ScheduledDate.Format(timeutil.DateLayout)
	}
	pdf.CellFormat(95, 7, "Scheduled: "+scheduled, "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, "Created by: "+d.CreatedByName, "RB", 1, "L", false, 0, "")
	if notes := deref(d.Notes); notes != "" {
		pdf.MultiCell(190, 7, "Notes: "+notes, "1", "L", false)
	}

	if req != nil && len(req.Items) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(190, 8, fmt.Sprintf("Items (request #%d)", req.ID), "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(200, 200, 200)
		pdf.CellFormat(80, 7, "Description", "1", 0, "C", true, 0, "")
		pdf.CellFormat(25, 7, "Qty", "1", 0, "C", true, 0, "")
		pdf.CellFormat(20, 7, "Unit", "1", 0, "C", true, 0, "")
		pdf.CellFormat(30, 7, "Unit Price", "1", 0, "C", true, 0, "")
		pdf.CellFormat(35, 7, "Subtotal", "1", 1, "C", true, 0, "")

		pdf.SetFont("Arial", "", 10)
		for _, it := range req.Items {
			desc := it.Description
			if len(desc) > 40 {
				desc = desc[:37] + "..."
			}
			pdf.CellFormat(80, 6, desc, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, fmt.Sprintf("%g", it.Quantity), "1", 0, "R", false, 0, "")
			pdf.CellFormat(20, 6, it.Unit, "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", it.UnitPrice), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", it.Subtotal), "1", 1, "R", false, 0, "")
		}
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(155, 8, "Total", "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", req.TotalAmount), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(16)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(95, 6, "Dispatched by: ____________________", "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Received by: ____________________", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render waybill")
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
