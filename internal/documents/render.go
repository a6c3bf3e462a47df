// Package documents renders challan notices and payment receipts and archives
// them asynchronously in blob storage. It consumes already resolved challans
// and never reads the ledger itself.
package documents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"trafficcore/pkg/domain"
)

// Kind selects which document is produced for a challan.
type Kind string

// Supported document kinds.
const (
	// KindNotice is the amount-due print for a pending challan.
	KindNotice Kind = "notice"
	// KindReceipt is the payment receipt for a paid challan.
	KindReceipt Kind = "receipt"
)

// Format selects the document encoding.
type Format string

// Supported document formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const displayTime = "2006-01-02 15:04:05"

// ParseKind validates a document kind; empty input selects the notice.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case "":
		return KindNotice, nil
	case KindNotice, KindReceipt:
		return k, nil
	}
	return "", domain.InvalidInput("kind", "unsupported document kind %q", raw)
}

// ParseFormat validates a document format; empty input selects text.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", domain.InvalidInput("format", "unsupported document format %q", raw)
}

// Extension returns the file extension used when the document is archived.
func (f Format) Extension() string {
	if f == FormatJSON {
		return "json"
	}
	return "txt"
}

// ContentType returns the MIME type of the encoding.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Document is a rendered challan print.
type Document struct {
	Kind        Kind   `json:"kind"`
	Format      Format `json:"format"`
	ChallanID   int64  `json:"challan_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
}

type field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type section struct {
	Title  string  `json:"title"`
	Fields []field `json:"fields"`
}

type layout struct {
	Title    string    `json:"title"`
	Sections []section `json:"sections"`
	Notes    []string  `json:"notes"`
}

// Render produces the document of the requested kind. Notices are only issued
// for pending challans and receipts only for paid ones.
func Render(challan domain.Challan, kind Kind, format Format, now time.Time) (Document, error) {
	var doc layout
	switch kind {
	case KindNotice:
		if challan.Status != domain.ChallanStatusPending {
			return Document{}, domain.PreconditionFailed(
				"challan %d is %s: notices are printed for pending challans, use a receipt for paid ones", challan.ID, challan.Status)
		}
		doc = noticeLayout(challan)
	case KindReceipt:
		if challan.Status != domain.ChallanStatusPaid {
			return Document{}, domain.PreconditionFailed(
				"receipt can only be generated for paid challans: challan %d is %s", challan.ID, challan.Status)
		}
		doc = receiptLayout(challan, now)
	default:
		return Document{}, domain.InvalidInput("kind", "unsupported document kind %q", kind)
	}

	var (
		body []byte
		err  error
	)
	switch format {
	case FormatJSON:
		body, err = json.MarshalIndent(doc, "", "  ")
	case FormatText:
		body, err = renderText(doc)
	default:
		return Document{}, domain.InvalidInput("format", "unsupported document format %q", format)
	}
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", kind, err)
	}
	return Document{
		Kind:        kind,
		Format:      format,
		ChallanID:   challan.ID,
		Filename:    fmt.Sprintf("challan_%s_%d.%s", kind, challan.ID, format.Extension()),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func noticeLayout(c domain.Challan) layout {
	return layout{
		Title: "Traffic Challan (Amount Due)",
		Sections: []section{
			{Title: "Challan Details", Fields: []field{
				{"Challan ID", fmt.Sprint(c.ID)},
				{"Challan Number", orNA(c.ChallanNumber)},
				{"Area", c.Area},
				{"Lane of Violation", c.LaneID},
				{"Violation Type", string(c.ViolationType)},
				{"Violation Timestamp", c.Timestamp.UTC().Format(displayTime)},
			}},
			violatorSection(c),
			{Title: "Amount Due", Fields: []field{
				{"Fine Amount", rupees(c.FineAmount)},
				{"Status", strings.ToUpper(string(c.Status))},
			}},
		},
		Notes: []string{
			"Please pay this challan amount at the nearest traffic police station or through an online payment portal. Failure to pay within the stipulated time may result in additional penalties.",
			"This is an electronically generated challan and does not require a signature.",
		},
	}
}

func receiptLayout(c domain.Challan, now time.Time) layout {
	return layout{
		Title: "Traffic Challan Payment Receipt",
		Sections: []section{
			{Title: "Challan Details", Fields: []field{
				{"Challan ID", fmt.Sprint(c.ID)},
				{"Challan Number", orNA(c.ChallanNumber)},
				{"Transaction ID", orNA(c.TransactionID)},
				{"Area", c.Area},
				{"Lane of Violation", c.LaneID},
				{"Violation Type", string(c.ViolationType)},
				{"Violation Timestamp", c.Timestamp.UTC().Format(displayTime)},
			}},
			violatorSection(c),
			{Title: "Payment Summary", Fields: []field{
				{"Amount Paid", rupees(c.FineAmount)},
				{"Payment Status", strings.ToUpper(string(c.Status))},
				{"Payment Date", now.UTC().Format(displayTime)},
			}},
		},
		Notes: []string{
			"Thank you for your payment.",
			"This is an electronically generated receipt and does not require a signature.",
		},
	}
}

func violatorSection(c domain.Challan) section {
	return section{Title: "Violator and Vehicle Details", Fields: []field{
		{"Violator Name", c.OwnerName},
		{"Violator Phone", c.OwnerPhone},
		{"Vehicle Type", c.VehicleType},
		{"Vehicle Number", c.VehicleNumber},
		{"Vehicle State", orNA(c.StateCode)},
	}}
}

func renderText(doc layout) ([]byte, error) {
	var buf bytes.Buffer
	rule := strings.Repeat("=", len(doc.Title))
	fmt.Fprintf(&buf, "%s\n%s\n%s\n", rule, doc.Title, rule)
	for _, s := range doc.Sections {
		fmt.Fprintf(&buf, "\n%s:\n", s.Title)
		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		for _, f := range s.Fields {
			fmt.Fprintf(tw, "  %s:\t%s\n", f.Label, f.Value)
		}
		if err := tw.Flush(); err != nil {
			return nil, err
		}
	}
	for _, n := range doc.Notes {
		fmt.Fprintf(&buf, "\n%s\n", n)
	}
	return buf.Bytes(), nil
}

func rupees(amount uint) string { return fmt.Sprintf("Rs. %d", amount) }

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
