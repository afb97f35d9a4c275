// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// TestClassify covers the marker lists, including the memo-wins rule for
// titles that carry both kinds of marker.
func TestClassify(t *testing.T) {
	cases := []struct {
		title string
		want  DocumentKind
	}{
		{"نظام العمل", KindStatute},
		{"اللائحة التنفيذية", KindStatute},
		{"قانون المعاملات المدنية", KindStatute},
		{"مرسوم ملكي رقم م/51", KindStatute},
		{"قرار وزاري بشأن ساعات العمل", KindStatute},
		{"مذكرة تفسيرية", KindMemo},
		{"صحيفة دعوى", KindMemo},
		{"عريضة اعتراض", KindMemo},
		{"مذكرة بشأن نظام العمل", KindMemo},
		{"دليل المستخدم", KindOther},
		{"", KindOther},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.title), "title: %s", tc.title)
	}
}

// TestFixCitations_RewritesMemoReferenceToTopStatute is the canonical case:
// a citation quoting a memo is rewritten to the highest-ranked statute.
func TestFixCitations_RewritesMemoReferenceToTopStatute(t *testing.T) {
	text := `يحق للعامل المطالبة بالتعويض وفقاً لـ"مذكرة تفسيرية" المقدمة في القضية.`
	docs := []datatypes.RetrievedDocument{
		{Title: "نظام العمل", Rank: 0},
		{Title: "اللائحة التنفيذية", Rank: 1},
	}

	got := FixCitations(text, docs)
	assert.Contains(t, got, `وفقاً لـ"نظام العمل"`)
	assert.NotContains(t, got, "مذكرة")
}

// TestFixCitations_SlotOrderFollowsRank verifies successive weak citations
// walk down the statute ranking, reusing the top statute once exhausted.
func TestFixCitations_SlotOrderFollowsRank(t *testing.T) {
	text := `أولاً بناءً على "مصدر عام" وثانياً حسب "مصدر آخر" وثالثاً طبقاً لـ"مرجع ثالث".`
	docs := []datatypes.RetrievedDocument{
		{Title: "نظام العمل", Rank: 0},
		{Title: "لائحة الجزاءات", Rank: 1},
	}

	got := FixCitations(text, docs)
	assert.Contains(t, got, `بناءً على "نظام العمل"`)
	assert.Contains(t, got, `حسب "لائحة الجزاءات"`)
	assert.Contains(t, got, `طبقاً لـ"نظام العمل"`, "third slot falls back to rank 0")
}

// TestFixCitations_ExactStatuteReferenceUntouched verifies a citation that
// already names an available statute is not rewritten, and that it still
// consumes a ranking slot.
func TestFixCitations_ExactStatuteReferenceUntouched(t *testing.T) {
	text := `وفقاً لـ"نظام العمل" يجب الإشعار، كما جاء استناداً إلى "وثيقة داخلية".`
	docs := []datatypes.RetrievedDocument{
		{Title: "نظام العمل", Rank: 0},
		{Title: "لائحة الجزاءات", Rank: 1},
	}

	got := FixCitations(text, docs)
	assert.Contains(t, got, `وفقاً لـ"نظام العمل"`)
	assert.Contains(t, got, `استناداً إلى "لائحة الجزاءات"`)
}

// TestFixCitations_DeletesMemoCitationWhenNoStatutes verifies that with no
// statute to point at, memo citations are removed outright and other text is
// preserved.
func TestFixCitations_DeletesMemoCitationWhenNoStatutes(t *testing.T) {
	text := `يستند الحكم وفقاً لـ"مذكرة تفسيرية" إلى وقائع القضية.`
	docs := []datatypes.RetrievedDocument{
		{Title: "دليل المستخدم", Rank: 0},
	}

	got := FixCitations(text, docs)
	assert.NotContains(t, got, "مذكرة")
	assert.Contains(t, got, "يستند الحكم")
	assert.Contains(t, got, "إلى وقائع القضية")
}

// TestFixCitations_EmptyDocumentsIsNoOp verifies the filter never touches
// text when retrieval produced nothing.
func TestFixCitations_EmptyDocumentsIsNoOp(t *testing.T) {
	text := `وفقاً لـ"مذكرة تفسيرية" يحق للعامل التعويض.`
	assert.Equal(t, text, FixCitations(text, nil))
}

// TestFixCitations_TextWithoutCitationsUnchanged verifies prose with no
// citation phrases passes through byte for byte.
func TestFixCitations_TextWithoutCitationsUnchanged(t *testing.T) {
	text := "العقد شريعة المتعاقدين، ويلتزم الطرفان بما ورد فيه."
	docs := []datatypes.RetrievedDocument{{Title: "نظام العمل", Rank: 0}}
	assert.Equal(t, text, FixCitations(text, docs))
}

// TestFixCitations_Idempotent verifies running the filter on its own output
// changes nothing.
func TestFixCitations_Idempotent(t *testing.T) {
	cases := []struct {
		name string
		text string
		docs []datatypes.RetrievedDocument
	}{
		{
			name: "rewrite",
			text: `وفقاً لـ"مذكرة تفسيرية" ثم حسب "مصدر غامض".`,
			docs: []datatypes.RetrievedDocument{
				{Title: "نظام العمل", Rank: 0},
				{Title: "اللائحة التنفيذية", Rank: 1},
			},
		},
		{
			name: "deletion",
			text: `يستند الحكم وفقاً لـ"مذكرة تفسيرية" إلى الوقائع.`,
			docs: []datatypes.RetrievedDocument{{Title: "تقرير فني", Rank: 0}},
		},
		{
			name: "mixed valid and weak",
			text: `وفقاً لـ"اللائحة التنفيذية" وكذلك بناء على "مرجع عام".`,
			docs: []datatypes.RetrievedDocument{
				{Title: "نظام العمل", Rank: 0},
				{Title: "اللائحة التنفيذية", Rank: 1},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := FixCitations(tc.text, tc.docs)
			twice := FixCitations(once, tc.docs)
			assert.Equal(t, once, twice)
		})
	}
}

// TestFixCitations_RankOrderIndependentOfSliceOrder verifies ranking, not
// slice position, decides which statute fills the first slot.
func TestFixCitations_RankOrderIndependentOfSliceOrder(t *testing.T) {
	text := `حسب "مصدر عام" انتهى النزاع.`
	docs := []datatypes.RetrievedDocument{
		{Title: "لائحة الجزاءات", Rank: 3},
		{Title: "نظام المعاملات المدنية", Rank: 1},
	}

	got := FixCitations(text, docs)
	assert.Contains(t, got, `حسب "نظام المعاملات المدنية"`)
}
