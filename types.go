package pdfveil

// ContentKind classifies a structured content item.
type ContentKind int

const (
	ContentTextBlock ContentKind = iota
	ContentImage
	ContentFigure
	ContentTable
)

func (k ContentKind) String() string {
	switch k {
	case ContentTextBlock:
		return "text_block"
	case ContentImage:
		return "image"
	case ContentFigure:
		return "figure"
	case ContentTable:
		return "table"
	}
	return "unknown"
}

// ContentItem is one structured element the upstream pipeline extracted
// from a page.
type ContentItem struct {
	Kind ContentKind
	Page int
	BBox [4]float64
	Text string
}

// Mapping is one requested substring substitution, with optional
// geometry hints for font-attack rendering.
type Mapping struct {
	Original    string
	Replacement string
	StartPos    int
	EndPos      int

	SelectionPage  int
	SelectionBBox  [4]float64
	SelectionQuads [][8]float64
}

// AttackResult is the metadata record handed to the evaluation layer.
type AttackResult struct {
	Mappings        [][2]string
	PrebuiltFontDir string
	AttackedPDFPath string
}
