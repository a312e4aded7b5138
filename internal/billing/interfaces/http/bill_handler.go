package billinghttp

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fixedrate-billing/internal/billing/application"
	billing "fixedrate-billing/internal/billing/domain"
	"fixedrate-billing/internal/billing/infrastructure/xlsx"
	"fixedrate-billing/internal/billing/interfaces"
)

//go:embed templates/index.html
var templateFS embed.FS

const (
	flashSuccess = "success"
	flashError   = "error"

	msgMissingFile = "please upload a CSV file containing a kWh column"
	msgCalculated  = "bill calculated successfully"
	msgInternal    = "internal error"
)

// Defaults pre-fill the form and replace empty form fields.
type Defaults struct {
	Rate     float64
	FixedFee float64
}

type flash struct {
	Category string
	Message  string
}

type pageData struct {
	Rate      string
	FixedFee  string
	Flashes   []flash
	Statement *application.Statement
}

// BillHandler serves the upload form and renders bills.
type BillHandler struct {
	service   *application.StatementService
	defaults  Defaults
	maxUpload int64
	logger    *zap.Logger
	tmpl      *template.Template
}

// NewBillHandler constructs a BillHandler.
func NewBillHandler(service *application.StatementService, defaults Defaults, maxUpload int64, logger *zap.Logger) (*BillHandler, error) {
	if service == nil {
		return nil, errors.New("bill handler: nil service")
	}
	if maxUpload <= 0 {
		return nil, errors.New("bill handler: max upload must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("bill handler: parse template: %w", err)
	}
	return &BillHandler{
		service:   service,
		defaults:  defaults,
		maxUpload: maxUpload,
		logger:    logger.Named("http.bill"),
		tmpl:      tmpl,
	}, nil
}

// ServeHTTP handles GET and POST /.
func (h *BillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.render(w, http.StatusOK, pageData{
			Rate:     formatFloat(h.defaults.Rate),
			FixedFee: formatFloat(h.defaults.FixedFee),
		})
	case http.MethodPost:
		h.calculate(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *BillHandler) calculate(w http.ResponseWriter, r *http.Request) {
	page := pageData{
		Rate:     formatFloat(h.defaults.Rate),
		FixedFee: formatFloat(h.defaults.FixedFee),
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			page.Flashes = append(page.Flashes, flash{flashError, fmt.Sprintf("upload exceeds %d bytes", h.maxUpload)})
			h.render(w, http.StatusRequestEntityTooLarge, page)
			return
		}
		page.Flashes = append(page.Flashes, flash{flashError, "invalid form submission"})
		h.render(w, http.StatusBadRequest, page)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	rateRaw, rate := formNumber(r, "rate", h.defaults.Rate)
	feeRaw, fee := formNumber(r, "fixed_fee", h.defaults.FixedFee)
	page.Rate, page.FixedFee = rateRaw, feeRaw

	file, header, err := r.FormFile("file")
	if err != nil {
		page.Flashes = append(page.Flashes, flash{flashError, msgMissingFile})
		h.render(w, http.StatusBadRequest, page)
		return
	}
	defer file.Close()

	source, err := usageSource(file, header.Filename)
	if err != nil {
		page.Flashes = append(page.Flashes, flash{flashError, "processing failed: " + err.Error()})
		h.render(w, http.StatusBadRequest, page)
		return
	}

	stmt, err := h.service.Calculate(r.Context(), source, rate, fee)
	if err != nil {
		status := http.StatusUnprocessableEntity
		msg := err.Error()
		if billing.KindOf(err) == 0 {
			h.logger.Error("bill calculation failed", zap.Error(err))
			status = http.StatusInternalServerError
			msg = msgInternal
		}
		page.Flashes = append(page.Flashes, flash{flashError, "processing failed: " + msg})
		h.render(w, status, page)
		return
	}

	switch format := strings.ToLower(r.FormValue("format")); format {
	case "", "html":
		page.Statement = stmt
		page.Flashes = append(page.Flashes, flash{flashSuccess, msgCalculated})
		h.render(w, http.StatusOK, page)
	case interfaces.FormatPDF, interfaces.FormatXLSX:
		data, err := interfaces.ExportStatement(stmt, format)
		if err != nil {
			h.logger.Error("statement export failed", zap.String("format", format), zap.Error(err))
			page.Flashes = append(page.Flashes, flash{flashError, "export failed"})
			h.render(w, http.StatusInternalServerError, page)
			return
		}
		filename := fmt.Sprintf("bill-%s.%s", stmt.GeneratedAt.Format("20060102-150405"), format)
		w.Header().Set("Content-Type", interfaces.ContentType(format))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	default:
		page.Flashes = append(page.Flashes, flash{flashError, fmt.Sprintf("unsupported format %q", format)})
		h.render(w, http.StatusBadRequest, page)
	}
}

func (h *BillHandler) render(w http.ResponseWriter, status int, page pageData) {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, page); err != nil {
		h.logger.Error("render template failed", zap.Error(err))
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func usageSource(r io.Reader, filename string) (application.UsageSource, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return xlsx.NewUsageSource(r, "")
	}
	return application.CSVReaderSource(r), nil
}

// formNumber returns the submitted text and the value handed to the
// billing domain: the default when empty, a float64 when it parses and the
// raw string otherwise so validation reports it by field name.
func formNumber(r *http.Request, key string, fallback float64) (string, any) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return formatFloat(fallback), fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, raw
	}
	return raw, value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
