package documents

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"trafficcore/pkg/domain"
)

var renderNow = time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)

func fixtureChallan(status domain.ChallanStatus) domain.Challan {
	return domain.Challan{
		ID:        7,
		Timestamp: time.Date(2024, 3, 8, 18, 4, 5, 0, time.UTC),
		Status:    status,
		ChallanDraft: domain.ChallanDraft{
			Area:          "Sayajigunj",
			LaneID:        "Lane 2",
			ViolationType: domain.ViolationRedLight,
			VehicleNumber: "GJ06AB1234",
			OwnerName:     "Amit Patel",
			OwnerPhone:    "9876543210",
			VehicleType:   "Car",
			ChallanNumber: "CHLN-2024-0A1B2C3D",
			TransactionID: "TXN-0A1B2C3D4E5F",
			StateCode:     "GJ",
			FineAmount:    1000,
		},
	}
}

func TestParseKindAndFormat(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindNotice {
		t.Fatalf("default kind: %v %v", k, err)
	}
	if k, err := ParseKind(" Receipt "); err != nil || k != KindReceipt {
		t.Fatalf("receipt kind: %v %v", k, err)
	}
	if _, err := ParseKind("pdf"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Fatalf("default format: %v %v", f, err)
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("json format: %v %v", f, err)
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRenderNoticeText(t *testing.T) {
	doc, err := Render(fixtureChallan(domain.ChallanStatusPending), KindNotice, FormatText, renderNow)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.Filename != "challan_notice_7.txt" || !strings.HasPrefix(doc.ContentType, "text/plain") {
		t.Fatalf("unexpected document header %+v", doc)
	}
	body := string(doc.Body)
	for _, want := range []string{
		"Traffic Challan (Amount Due)",
		"CHLN-2024-0A1B2C3D",
		"Lane 2",
		"2024-03-08 18:04:05",
		"Rs. 1000",
		"PENDING",
		"does not require a signature",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("notice missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "TXN-") {
		t.Fatalf("notice should not carry the transaction id:\n%s", body)
	}
}

func TestRenderReceiptJSON(t *testing.T) {
	doc, err := Render(fixtureChallan(domain.ChallanStatusPaid), KindReceipt, FormatJSON, renderNow)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.ContentType != "application/json" || doc.Filename != "challan_receipt_7.json" {
		t.Fatalf("unexpected document header %+v", doc)
	}
	var decoded layout
	if err := json.Unmarshal(doc.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Title != "Traffic Challan Payment Receipt" {
		t.Fatalf("unexpected title %q", decoded.Title)
	}
	values := map[string]string{}
	for _, s := range decoded.Sections {
		for _, f := range s.Fields {
			values[f.Label] = f.Value
		}
	}
	if values["Transaction ID"] != "TXN-0A1B2C3D4E5F" || values["Payment Status"] != "PAID" {
		t.Fatalf("unexpected receipt fields %v", values)
	}
	if values["Payment Date"] != "2024-03-09 10:30:00" {
		t.Fatalf("payment date should come from now, got %q", values["Payment Date"])
	}
}

func TestRenderStatusPreconditions(t *testing.T) {
	cases := []struct {
		kind   Kind
		status domain.ChallanStatus
	}{
		{KindNotice, domain.ChallanStatusPaid},
		{KindNotice, domain.ChallanStatusDisputed},
		{KindReceipt, domain.ChallanStatusPending},
		{KindReceipt, domain.ChallanStatusDisputed},
	}
	for _, c := range cases {
		_, err := Render(fixtureChallan(c.status), c.kind, FormatText, renderNow)
		if !errors.Is(err, domain.ErrPreconditionFailed) {
			t.Fatalf("%s for %s: expected precondition failure, got %v", c.kind, c.status, err)
		}
	}
}

func TestRenderRejectsUnknownKindAndFormat(t *testing.T) {
	c := fixtureChallan(domain.ChallanStatusPending)
	if _, err := Render(c, Kind("pdf"), FormatText, renderNow); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if _, err := Render(c, KindNotice, Format("xml"), renderNow); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid format, got %v", err)
	}
}

func TestRenderMissingOptionalFields(t *testing.T) {
	c := fixtureChallan(domain.ChallanStatusPending)
	c.StateCode = ""
	doc, err := Render(c, KindNotice, FormatText, renderNow)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(doc.Body), "N/A") {
		t.Fatalf("expected N/A placeholder:\n%s", doc.Body)
	}
}
