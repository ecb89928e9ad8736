package modules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ledongthuc/pdf"
)

var ErrNotOpen = errors.New("no module is open")

const defaultMaxPDFBytes = 64 << 20

// PageCounter reports how many pages the document at url has.
type PageCounter interface {
	CountPages(ctx context.Context, url string) (int, error)
}

// PDFPageCounter downloads the document and reads its page tree.
type PDFPageCounter struct {
	Client   *http.Client
	MaxBytes int64
}

func (p *PDFPageCounter) CountPages(ctx context.Context, url string) (int, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := p.MaxBytes
	if limit <= 0 {
		limit = defaultMaxPDFBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return 0, fmt.Errorf("document %s exceeds %d bytes", url, limit)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", url, err)
	}
	return r.NumPage(), nil
}

// Page is the viewer position.
type Page struct {
	Module Module `json:"module"`
	Number int    `json:"page"`
	Total  int    `json:"total"`
}

// Viewer shows one module at a time, a page at a time.
type Viewer struct {
	counter PageCounter

	mu     sync.Mutex
	module *Module
	page   int
	total  int
}

func NewViewer(counter PageCounter) *Viewer {
	return &Viewer{counter: counter}
}

// Open loads the module and shows its first page. A document that fails to
// load leaves the viewer as it was.
func (v *Viewer) Open(ctx context.Context, m Module) (Page, error) {
	total, err := v.counter.CountPages(ctx, m.PDFURL)
	if err != nil {
		return Page{}, err
	}
	if total < 1 {
		return Page{}, fmt.Errorf("document for %s has no pages", m.Title)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.module = &m
	v.page = 1
	v.total = total
	return v.current(), nil
}

func (v *Viewer) current() Page {
	return Page{Module: *v.module, Number: v.page, Total: v.total}
}

func (v *Viewer) Current() (Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.module == nil {
		return Page{}, ErrNotOpen
	}
	return v.current(), nil
}

func (v *Viewer) Next() (Page, error) {
	return v.move(1)
}

func (v *Viewer) Previous() (Page, error) {
	return v.move(-1)
}

func (v *Viewer) move(delta int) (Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.module == nil {
		return Page{}, ErrNotOpen
	}
	v.page = min(max(v.page+delta, 1), v.total)
	return v.current(), nil
}

func (v *Viewer) Close() {
	v.mu.Lock()
	v.module = nil
	v.page, v.total = 0, 0
	v.mu.Unlock()
}
