/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package document renders typed incident documents as DOCX. Each profile
// type has an embedded WordprocessingML template; the renderer substitutes
// the profile fields, draws a Code128 barcode identifying the profile, and
// assembles the OOXML package. Output is deterministic: the same inputs
// produce the same bytes.
package document

import (
	"archive/zip"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"text/template"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/google/uuid"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/pkg/drive"
)

//go:embed templates/*.xml
var templateFS embed.FS

// ErrNoTemplate reports a profile type without a document template.
var ErrNoTemplate = errors.New("document: no template for profile type")

// checkbox glyphs used for boolean fields.
const (
	glyphChecked   = "☑"
	glyphUnchecked = "☐"
)

// zipEpoch pins every archive entry's timestamp so output bytes are stable.
var zipEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Renderer holds the parsed template set.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("docx").Funcs(template.FuncMap{
		"esc":   escapeXML,
		"check": checkGlyph,
	}).ParseFS(templateFS, "templates/*.xml")
	if err != nil {
		return nil, fmt.Errorf("document: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// BarcodePayload is the identifier encoded into each document's barcode.
func BarcodePayload(profileID uuid.UUID, t domain.ProfileType, eventDate time.Time) string {
	return fmt.Sprintf("%s|%s|%04d|%02d", profileID, t.TypeCode(), eventDate.Year(), int(eventDate.Month()))
}

// templateFile maps a profile type onto its template name.
func templateFile(t domain.ProfileType) (string, error) {
	switch t {
	case domain.ProfileEventInvestigation:
		return "event_investigation.xml", nil
	case domain.ProfilePersonnelInterview:
		return "personnel_interview.xml", nil
	case domain.ProfileCorrectiveMeasures:
		return "corrective_measures.xml", nil
	case domain.ProfileAssessmentNotice:
		return "assessment_notice.xml", nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoTemplate, t)
}

// renderData is the substitution context shared by all templates.
type renderData struct {
	DepartmentName string
	Employee       *domain.Employee
	Profile        *domain.Profile
	Details        *domain.ProfileDetails

	EventDate string
	EventTime string
	Location  string
	Train     string
	Title     string
}

var departmentNames = map[domain.Department]string{
	domain.DepartmentTanhai: "淡海",
	domain.DepartmentAnkeng: "安坑",
}

// Render produces the DOCX bytes and the deterministic filename. It
// satisfies the profile service's Renderer contract.
func (r *Renderer) Render(p *domain.Profile, details *domain.ProfileDetails, emp *domain.Employee) ([]byte, string, error) {
	name, err := templateFile(p.ProfileType)
	if err != nil {
		return nil, "", err
	}
	if details == nil || details.Type() != p.ProfileType {
		return nil, "", fmt.Errorf("document: sub-form does not match profile type %s", p.ProfileType)
	}

	data := renderData{
		DepartmentName: departmentNames[p.Department],
		Employee:       emp,
		Profile:        p,
		Details:        details,
		EventDate:      p.EventDate.Format("2006-01-02"),
		EventTime:      deref(p.EventTime),
		Location:       deref(p.EventLocation),
		Train:          deref(p.TrainNumber),
		Title:          deref(p.EventTitle),
	}

	var docXML bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&docXML, name, data); err != nil {
		return nil, "", fmt.Errorf("document: execute %s: %w", name, err)
	}

	barcodePNG, err := renderBarcode(BarcodePayload(p.ID, p.ProfileType, p.EventDate))
	if err != nil {
		return nil, "", err
	}

	pkg, err := assemble(docXML.Bytes(), barcodePNG)
	if err != nil {
		return nil, "", err
	}
	return pkg, drive.FileName(p.Department, p.ProfileType, emp.EmployeeCode, p.EventDate), nil
}

// renderBarcode draws the Code128 identifier as a PNG.
func renderBarcode(payload string) ([]byte, error) {
	code, err := code128.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("document: barcode: %w", err)
	}
	// The payload is ~46 characters, which needs well over 500 Code128
	// modules; scale keeps at least one pixel per module.
	scaled, err := barcode.Scale(code, 800, 160)
	if err != nil {
		return nil, fmt.Errorf("document: barcode scale: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("document: barcode png: %w", err)
	}
	return buf.Bytes(), nil
}

// OOXML package boilerplate. The document part and the barcode image are the
// only variable pieces.
const (
	contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Default Extension="png" ContentType="image/png"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

	rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

	documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/barcode.png"/>
</Relationships>`
)

// assemble zips the OOXML parts with pinned timestamps.
func assemble(documentXML, barcodePNG []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(rootRelsXML)},
		{"word/document.xml", documentXML},
		{"word/_rels/document.xml.rels", []byte(documentRelsXML)},
		{"word/media/barcode.png", barcodePNG},
	}
	for _, part := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     part.name,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		})
		if err != nil {
			return nil, fmt.Errorf("document: zip %s: %w", part.name, err)
		}
		if _, err := w.Write(part.data); err != nil {
			return nil, fmt.Errorf("document: zip %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("document: zip close: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checkGlyph(checked bool) string {
	if checked {
		return glyphChecked
	}
	return glyphUnchecked
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
