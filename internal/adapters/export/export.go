// Package export writes ledger recaps to .xlsx files.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tealeg/xlsx"

	"github.com/zydorg/kemunify/internal/domain/types"
	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	// SheetName is the single sheet of every recap.
	SheetName = "Data Sampah"
	// MimeType is the content type of the generated files.
	MimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	filePrefix = "rekap_sampah_"
	fileExt    = ".xlsx"
	// Day-month-year like the staff read it; dots instead of colons keep the
	// name valid on every filesystem.
	fileTimeLayout = "02-01-2006_15.04.05"
	maxSameSecond  = 100
)

var (
	ErrInvalidName = errors.New("invalid export file name")
	ErrNotFound    = errors.New("export not found")
)

// File describes a generated recap.
type File struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Exporter writes recaps into a directory.
type Exporter struct {
	dir    string
	now    func() time.Time
	logger logger.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the exporter logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exporter writing into dir.
func New(dir string, opts ...Option) *Exporter {
	e := &Exporter{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	e.logger = e.logger.Named("export")
	return e
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// FileName returns the recap file name for t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(fileTimeLayout) + fileExt
}

// Write renders recap to a new spreadsheet and returns where it went.
func (e *Exporter) Write(ctx context.Context, recap types.Recap) (File, error) {
	start := time.Now()
	f, err := e.write(recap)
	result := "ok"
	if err != nil {
		result = "failed"
		metrics.RecordErrorByComponent("export", "write")
		e.logger.Error(ctx, "export failed", logger.Error(err))
	} else {
		e.logger.Info(ctx, "recap exported",
			logger.String("file", f.Name), logger.Int("rows", len(recap.Rows)), logger.Int("customers", len(recap.Customers)))
	}
	metrics.RecordExport(result, float64(time.Since(start).Milliseconds()))
	return f, err
}

func (e *Exporter) write(recap types.Recap) (File, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return File{}, fmt.Errorf("create export dir: %w", err)
	}

	book := xlsx.NewFile()
	sheet, err := book.AddSheet(SheetName)
	if err != nil {
		return File{}, fmt.Errorf("add sheet: %w", err)
	}

	style := headerStyle()
	header := sheet.AddRow()
	for _, h := range recap.Header {
		cell := header.AddCell()
		cell.SetString(h)
		cell.SetStyle(style)
	}

	for _, r := range recap.Rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.No)
		row.AddCell().SetString(r.WasteName)
		for _, v := range r.Weights {
			row.AddCell().SetString(v)
		}
	}

	created := e.now()
	out, name, err := e.create(created)
	if err != nil {
		return File{}, err
	}
	path := out.Name()
	if err := book.Write(out); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return File{}, fmt.Errorf("save %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return File{}, fmt.Errorf("save %s: %w", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return File{Name: name, Path: path, Size: info.Size(), CreatedAt: created}, nil
}

// create claims a fresh file for a recap made at t. Recaps made within the
// same second get a numeric suffix instead of replacing each other.
func (e *Exporter) create(t time.Time) (*os.File, string, error) {
	base := strings.TrimSuffix(FileName(t), fileExt)
	for n := 1; n <= maxSameSecond; n++ {
		name := base + fileExt
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, fileExt)
		}
		f, err := os.OpenFile(filepath.Join(e.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("create %s: %w", name, err)
		}
		return f, name, nil
	}
	return nil, "", fmt.Errorf("create %s: %d recaps already exist for this second", base+fileExt, maxSameSecond)
}

// headerStyle is bold white 12pt on dark blue, centred, with medium borders.
func headerStyle() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Font = *xlsx.NewFont(12, "Calibri")
	s.Font.Bold = true
	s.Font.Color = "FFFFFFFF"
	s.Fill = *xlsx.NewFill("solid", "FF000080", "FF000080")
	s.Border = *xlsx.NewBorder("medium", "medium", "medium", "medium")
	s.Alignment = xlsx.Alignment{Horizontal: "center", Vertical: "center"}
	s.ApplyFont = true
	s.ApplyFill = true
	s.ApplyBorder = true
	s.ApplyAlignment = true
	return s
}

// Lookup resolves an export by its base name.
func (e *Exporter) Lookup(name string) (File, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return File{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(e.dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return File{Name: name, Path: path, Size: info.Size(), CreatedAt: info.ModTime()}, nil
}

// List returns every export, newest first.
func (e *Exporter) List() ([]File, error) {
	entries, err := os.ReadDir(e.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}

	var out []File
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		f, err := e.Lookup(de.Name())
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
