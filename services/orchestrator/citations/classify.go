// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citations sanitizes legal citations in generated Arabic text.
//
// Retrieved source documents are classified into formally authoritative
// instruments (statutes) versus informal filings (memos), and citation
// phrases in the generated answer are rewritten so they only ever reference
// statutes the retrieval actually produced.
package citations

import "strings"

// DocumentKind is the classification of a retrieved source document.
type DocumentKind int

const (
	// KindOther is a document that is neither a statute nor a memo.
	KindOther DocumentKind = iota

	// KindStatute is a formally authoritative legal instrument: a law,
	// regulation, decree, or similar.
	KindStatute

	// KindMemo is an informal filing: a memorandum, pleading, or brief.
	// Memos are never valid citation targets.
	KindMemo
)

// StatuteMarkers are the lexical markers of a formal legal instrument:
// system/law, statute, regulation, article, decree, ministerial resolution,
// instructions, controls, rules.
var StatuteMarkers = []string{
	"نظام",
	"قانون",
	"لائحة",
	"مادة",
	"مرسوم",
	"قرار وزاري",
	"تعليمات",
	"ضوابط",
	"قواعد",
}

// MemoMarkers are the lexical markers of an informal filing: memorandum,
// pleading, brief.
var MemoMarkers = []string{
	"مذكرة",
	"صحيفة",
	"عريضة",
}

// Classify maps a document title to its kind. A memo marker always wins: a
// title like "مذكرة بشأن نظام العمل" is a memo about a statute, not a
// statute.
func Classify(title string) DocumentKind {
	if containsAny(title, MemoMarkers) {
		return KindMemo
	}
	if containsAny(title, StatuteMarkers) {
		return KindStatute
	}
	return KindOther
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
