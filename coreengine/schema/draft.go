package schema

var CitationTypes = []string{"direct", "paraphrase", "reference"}

// Citation links a draft paragraph to a source.
type Citation struct {
	SourceID        string   `json:"source_id"`
	SourceURL       string   `json:"source_url,omitempty"`
	SourceTitle     string   `json:"source_title"`
	SourceAbstract  string   `json:"source_abstract,omitempty"`
	Quote           string   `json:"quote,omitempty"`
	CitationType    string   `json:"citation_type"`
	CitationDisplay string   `json:"citation_display"`
	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
}

// CoachingTip is inline guidance attached to a paragraph.
type CoachingTip struct {
	Rationale  string `json:"rationale"`
	Suggestion string `json:"suggestion"`
}

// DraftBlock is one drafted paragraph.
type DraftBlock struct {
	BlockID           string       `json:"block_id"`
	ParagraphID       string       `json:"paragraph_id"`
	Content           string       `json:"content"`
	DerivedFrom       []string     `json:"derived_from"`
	Citations         []Citation   `json:"citations"`
	CoherenceScore    float64      `json:"coherence_score"`
	RequiresUserInput bool         `json:"requires_user_input"`
	Order             int          `json:"order"`
	CoachingTip       *CoachingTip `json:"coaching_tip,omitempty"`
}

// DraftPayload is the output of the draft agent.
type DraftPayload struct {
	DraftBlocks           []DraftBlock `json:"draft_blocks"`
	GlobalCoherenceScore  float64      `json:"global_coherence_score"`
	MissingEvidenceBlocks []string     `json:"missing_evidence_blocks"`
	NeedsRevision         bool         `json:"needs_revision"`
	RevisionNotes         []string     `json:"revision_notes,omitempty"`
	TotalWordCount        int          `json:"total_word_count"`
	CreatedAt             string       `json:"created_at,omitempty"`
}

// Paragraph returns the block with the given paragraph id.
func (d *DraftPayload) Paragraph(id string) (DraftBlock, bool) {
	for _, b := range d.DraftBlocks {
		if b.ParagraphID == id {
			return b, true
		}
	}
	return DraftBlock{}, false
}

// DraftContract accepts a DraftPayload. citations must be present on every
// block even when empty.
var DraftContract = &Contract[DraftPayload]{
	Name:     NameDraft,
	Required: []string{"draft_blocks", "global_coherence_score", "missing_evidence_blocks", "needs_revision", "total_word_count"},
	Rules: func(data map[string]any) error {
		return check(data).
			each("draft_blocks", func(b *fields) {
				b.text("block_id", "paragraph_id", "content").
					stringArray("derived_from").
					each("citations", func(c *fields) {
						c.text("source_id", "citation_display", "source_title").
							oneOf("citation_type", CitationTypes).
							optStr("source_url", "source_abstract", "quote").
							optNumber("relevance_score")
					}).
					unit("coherence_score").
					optBoolean("requires_user_input").
					optNumber("order").
					optObject("coaching_tip", func(tip *fields) {
						tip.text("rationale", "suggestion")
					})
			}).
			unit("global_coherence_score").
			stringArray("missing_evidence_blocks").
			boolean("needs_revision").
			number("total_word_count").
			optStringArray("revision_notes").
			done()
	},
}
