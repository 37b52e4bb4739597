package export

import (
	"context"
	"fmt"
)

// PDFRenderer turns an HTML page into a PDF.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides pitch export functionality
type Service struct {
	renderPDF PDFRenderer
}

// NewService creates an export service that prints PDFs with headless Chrome.
func NewService() *Service {
	return &Service{renderPDF: chromePDF}
}

// NewServiceWithPDFRenderer creates an export service with a custom PDF backend.
func NewServiceWithPDFRenderer(renderer PDFRenderer) *Service {
	return &Service{renderPDF: renderer}
}

// Export generates a pitch export in the requested format
func (s *Service) Export(ctx context.Context, p Pitch, format Format) (*Result, error) {
	base := sanitizeFilename(p.Idea)

	switch format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(RenderMarkdown(p)),
			Filename: base + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML, FormatPDF:
		html, err := RenderHTML(p)
		if err != nil {
			return nil, err
		}
		if format == FormatHTML {
			return &Result{
				Data:     []byte(html),
				Filename: base + ".html",
				MimeType: "text/html; charset=utf-8",
			}, nil
		}
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: base + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
