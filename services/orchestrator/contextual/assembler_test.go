// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contextual

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

func seedConversation(t *testing.T, s *store.GuestStore, contents []string) string {
	t.Helper()
	ctx := context.Background()
	owner := datatypes.Identity{Kind: datatypes.IdentityGuest, ID: "sess-1"}
	conv, err := s.CreateConversation(ctx, owner, "")
	require.NoError(t, err)
	for i, content := range contents {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		_, err := s.AppendMessage(ctx, conv.ID, role, content, 0)
		require.NoError(t, err)
	}
	return conv.ID
}

// TestAssembler_GetContext_ChronologicalOrder verifies turns come back
// oldest first with roles intact.
func TestAssembler_GetContext_ChronologicalOrder(t *testing.T) {
	s := store.NewGuestStore()
	id := seedConversation(t, s, []string{"q1", "a1", "q2", "a2"})

	a := NewAssembler(s, 10)
	turns, err := a.GetContext(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, datatypes.Turn{Role: datatypes.RoleUser, Content: "q1"}, turns[0])
	assert.Equal(t, datatypes.Turn{Role: datatypes.RoleAssistant, Content: "a2"}, turns[3])
}

// TestAssembler_GetContext_WindowKeepsNewest verifies the window trims from
// the oldest end.
func TestAssembler_GetContext_WindowKeepsNewest(t *testing.T) {
	s := store.NewGuestStore()
	var contents []string
	for i := 0; i < 8; i++ {
		contents = append(contents, fmt.Sprintf("m-%d", i))
	}
	id := seedConversation(t, s, contents)

	a := NewAssembler(s, 3)
	turns, err := a.GetContext(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, "m-5", turns[0].Content)
	assert.Equal(t, "m-7", turns[2].Content)
}

// TestAssembler_GetContext_EmptyConversation verifies a conversation with no
// messages yields an empty sequence, not an error.
func TestAssembler_GetContext_EmptyConversation(t *testing.T) {
	s := store.NewGuestStore()
	id := seedConversation(t, s, nil)

	a := NewAssembler(s, 0) // exercise the default window
	turns, err := a.GetContext(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

// TestAssembler_GetContext_UnknownConversation verifies store errors
// propagate.
func TestAssembler_GetContext_UnknownConversation(t *testing.T) {
	a := NewAssembler(store.NewGuestStore(), 10)
	_, err := a.GetContext(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}
