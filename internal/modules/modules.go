// Package modules lists the course modules and pages through their PDF
// documents.
package modules

import (
	"errors"
	"strconv"

	"udmportal/internal/config"
)

var ErrUnknownModule = errors.New("unknown module")

type Module struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CoverImage string `json:"coverImage"`
	PDFURL     string `json:"pdfUrl"`
}

var defaultModules = []config.ModuleConfig{
	{Title: "Mathematics 101", CoverImage: "/cover/math.png", PDFURL: "https://www.mathsisfun.com/geometry/pdf/Geometry.pdf"},
	{Title: "Fundamentals of Science", CoverImage: "/cover/science.png", PDFURL: "https://www.nasa.gov/pdf/158162main_Science_Exploration.pdf"},
	{Title: "Introduction to History", CoverImage: "/cover/history.png", PDFURL: "https://www.gutenberg.org/files/51499/51499-pdf.pdf"},
	{Title: "English Literature", CoverImage: "/cover/english.png", PDFURL: "https://www.gutenberg.org/files/1342/1342-pdf.pdf"},
	{Title: "Computer Basics", CoverImage: "/cover/computer.png", PDFURL: "https://cs.stanford.edu/people/eroberts/courses/soco/projects/1998-99/100book.pdf"},
	{Title: "Physical Education", CoverImage: "/cover/pe.png", PDFURL: "https://www.pecentral.org/downloads/fitnessgram/fitnessgram_pdf_2010.pdf"},
	{Title: "Philosophy 101", CoverImage: "/cover/philosophy.png", PDFURL: "https://www.gutenberg.org/files/49915/49915-pdf.pdf"},
	{Title: "Economics Principles", CoverImage: "/cover/economics.png", PDFURL: "https://www.gutenberg.org/files/33073/33073-pdf.pdf"},
	{Title: "Biology Basics", CoverImage: "/cover/biology.png", PDFURL: "https://www.ncbi.nlm.nih.gov/books/NBK22266/pdf/Bookshelf_NBK22266.pdf"},
	{Title: "Chemistry Concepts", CoverImage: "/cover/chemistry.png", PDFURL: "https://chem.libretexts.org/@api/deki/files/116049/General_Chemistry_Liberty_University.pdf"},
	{Title: "World Geography", CoverImage: "/cover/geography.png", PDFURL: "https://geographyfieldwork.com/WorldGeography.pdf"},
	{Title: "Art Appreciation", CoverImage: "/cover/art.png", PDFURL: "https://www.metmuseum.org/-/media/Files/Education/Downloads/Teaching-Art-Appreciation.pdf"},
}

// Catalog is the fixed module list. Ids are positions starting at 1.
type Catalog struct {
	modules []Module
}

// NewCatalog builds the catalog from config, or the built-in list when the
// config has none.
func NewCatalog(entries []config.ModuleConfig) *Catalog {
	if len(entries) == 0 {
		entries = defaultModules
	}
	c := &Catalog{modules: make([]Module, len(entries))}
	for i, e := range entries {
		c.modules[i] = Module{ID: strconv.Itoa(i + 1), Title: e.Title, CoverImage: e.CoverImage, PDFURL: e.PDFURL}
	}
	return c
}

func (c *Catalog) List() []Module {
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}

func (c *Catalog) Get(id string) (Module, error) {
	for _, m := range c.modules {
		if m.ID == id {
			return m, nil
		}
	}
	return Module{}, ErrUnknownModule
}
