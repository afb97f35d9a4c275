// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citations

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// CitationPhrases are the attribution prefixes that introduce a quoted
// source reference: variants of "according to", "based on", "pursuant to",
// "as per".
var CitationPhrases = []string{
	"وفقاً لـ",
	"وفقا لـ",
	"وفقًا لـ",
	"طبقاً لـ",
	"طبقا لـ",
	"طبقًا لـ",
	"استناداً إلى",
	"استنادًا إلى",
	"استنادا إلى",
	"بناءً على",
	"بناء على",
	"حسب",
}

// citationPattern matches one citation phrase followed by a quoted
// reference. Submatch 1 is the phrase, submatch 2 the reference.
var citationPattern = regexp.MustCompile(
	"(" + strings.Join(escapeAll(CitationPhrases), "|") + `)\s*"([^"]+)"`,
)

func escapeAll(phrases []string) []string {
	out := make([]string, len(phrases))
	for i, p := range phrases {
		out[i] = regexp.QuoteMeta(p)
	}
	return out
}

// FixCitations rewrites citation phrases in generated text so every quoted
// reference names a statute that retrieval actually produced.
//
// # Description
//
// The available documents are classified; statute titles are ordered by
// retrieval rank. Each citation whose quoted reference is not already an
// exact available statute title is rewritten in place to the next statute
// in rank order, one statute per citation slot, reusing the top-ranked
// statute once slots outnumber statutes. Citations that already name an
// available statute are left untouched, which makes the function idempotent.
//
// When retrieval produced no statutes there is nothing to rewrite to:
// memo-referencing citations are deleted outright and all others are left
// alone. With no documents at all the text is returned unchanged.
//
// Pure function; deterministic for identical inputs.
func FixCitations(text string, docs []datatypes.RetrievedDocument) string {
	if len(docs) == 0 {
		return text
	}

	statutes := rankedStatutes(docs)
	available := make(map[string]bool, len(statutes))
	for _, s := range statutes {
		available[s] = true
	}

	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	slot := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		phrase := text[m[2]:m[3]]
		ref := text[m[4]:m[5]]

		switch {
		case available[ref]:
			// Already a valid statute citation; consume a slot so later
			// citations keep advancing through the ranking.
			b.WriteString(text[prev:end])
			slot++

		case len(statutes) > 0:
			title := statutes[0]
			if slot < len(statutes) {
				title = statutes[slot]
			}
			slot++
			b.WriteString(text[prev:start])
			b.WriteString(phrase)
			b.WriteString(`"` + title + `"`)

		case Classify(ref) == KindMemo:
			// No statute to point at; drop the memo citation entirely,
			// along with one leading space if present.
			segment := text[prev:start]
			b.WriteString(strings.TrimRight(segment, " "))

		default:
			b.WriteString(text[prev:end])
		}

		prev = end
	}
	b.WriteString(text[prev:])

	return b.String()
}

// rankedStatutes returns statute titles ordered by retrieval rank, most
// relevant first.
func rankedStatutes(docs []datatypes.RetrievedDocument) []string {
	sorted := make([]datatypes.RetrievedDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	var out []string
	for _, d := range sorted {
		if Classify(d.Title) == KindStatute {
			out = append(out, d.Title)
		}
	}
	return out
}
