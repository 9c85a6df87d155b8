package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionPayloadDecodesByType(t *testing.T) {
	row, err := NewInteraction(7, "viewer-1", ChallengeJoinPayload{ChallengeID: 3})
	require.NoError(t, err)
	assert.Equal(t, InteractionChallengeJoin, row.InteractionType)

	p, err := row.Payload()
	require.NoError(t, err)
	assert.Equal(t, ChallengeJoinPayload{ChallengeID: 3}, p)
}

func TestUnknownInteractionIsPreserved(t *testing.T) {
	row := &StreamInteraction{InteractionType: "gift_bomb", InteractionData: `{"count":5}`}

	p, err := row.Payload()
	require.NoError(t, err)
	unknown, ok := p.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, "gift_bomb", unknown.InteractionType())

	out, err := json.Marshal(InteractionView{Type: row.InteractionType, Payload: p})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"interaction_data":{"count":5}`)
}

func TestInteractionViewRoundTrip(t *testing.T) {
	views := []InteractionView{
		{ID: 1, StreamID: 7, ViewerID: "viewer-1", Type: InteractionReaction, Payload: ReactionPayload{Emoji: "🔥"}},
		{ID: 2, StreamID: 7, ViewerID: "viewer-2", Type: "gift_bomb", Payload: UnknownPayload{Kind: "gift_bomb", Raw: json.RawMessage(`{"count":5}`)}},
	}
	out, err := json.Marshal(TrackerSnapshot{StreamID: 7, Recent: views})
	require.NoError(t, err)

	var snap TrackerSnapshot
	require.NoError(t, json.Unmarshal(out, &snap))
	require.Len(t, snap.Recent, 2)
	assert.Equal(t, ReactionPayload{Emoji: "🔥"}, snap.Recent[0].Payload)
	assert.Equal(t, "viewer-1", snap.Recent[0].ViewerID)

	unknown, ok := snap.Recent[1].Payload.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, "gift_bomb", unknown.Kind)
	assert.JSONEq(t, `{"count":5}`, string(unknown.Raw))
}

func TestMalformedKnownPayloadReportsError(t *testing.T) {
	row := &StreamInteraction{InteractionType: InteractionReaction, InteractionData: `not json`}

	p, err := row.Payload()
	assert.Error(t, err)
	assert.IsType(t, UnknownPayload{}, p)
}

func TestStringListScan(t *testing.T) {
	var l StringList
	require.NoError(t, l.Scan(`["a","b"]`))
	assert.True(t, l.Contains("b"))

	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)

	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}
