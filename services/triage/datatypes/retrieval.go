// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Chunk is one normalized knowledge chunk returned by the retrieval gateway.
//
// Similarity is the raw score from the search collaborator, normalized to
// [0,1]. AuthorityLevel ranks the publishing source (3 = CDC/WHO/NIH class,
// 2 = curated clinical corpora, 1 = generic).
type Chunk struct {
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	Source         string  `json:"source"`
	PageNumber     int     `json:"page_number,omitempty"`
	Domain         string  `json:"domain,omitempty"`
	AuthorityLevel int     `json:"authority_level"`
	Similarity     float64 `json:"similarity_score"`
	Content        string  `json:"content"`
}

// Citation is the outward-facing view of a chunk: the provenance without the
// content body. This is what appears in turn responses.
type Citation struct {
	DocumentID     string `json:"document_id"`
	Title          string `json:"title"`
	Source         string `json:"source"`
	PageNumber     int    `json:"page_number,omitempty"`
	Domain         string `json:"domain,omitempty"`
	AuthorityLevel int    `json:"authority_level"`
}

// RetrievalResult is the ranked, bounded sequence of chunks for one query
// plus the gateway's confidence in the set as a whole. A fresh query against
// the same corpus state reproduces an equivalent ranking.
type RetrievalResult struct {
	Chunks     []Chunk `json:"chunks"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the result carries no chunks.
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Chunks) == 0
}

// Citations projects the chunks to their outward citation view.
func (r *RetrievalResult) Citations() []Citation {
	if r == nil {
		return nil
	}
	out := make([]Citation, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		out = append(out, Citation{
			DocumentID:     c.DocumentID,
			Title:          c.Title,
			Source:         c.Source,
			PageNumber:     c.PageNumber,
			Domain:         c.Domain,
			AuthorityLevel: c.AuthorityLevel,
		})
	}
	return out
}

// ContextStrings formats the chunk bodies for prompt grounding.
// Each entry is "source: content" when the source is known.
func (r *RetrievalResult) ContextStrings() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if c.Source != "" {
			out = append(out, c.Source+": "+c.Content)
			continue
		}
		out = append(out, c.Content)
	}
	return out
}
