package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/session"
)

func sampleGroups() []session.DayGroup {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	me := model.Sender{UserID: "me"}
	jane := model.Sender{UserID: "jane"}
	messages := []model.Message{
		{ID: "1", Sender: jane, SenderName: "Jane Doe", Content: "proofs are up", CreatedAt: now.Add(-time.Hour),
			Reactions: []model.Reaction{{Reactor: me, Kind: model.ReactionLove}}},
		{ID: "2", Sender: me, SenderName: "Sam Lee", Content: "thanks!", CreatedAt: now.Add(-50 * time.Minute), IsEdited: true},
	}
	return session.Group(messages, me, map[string]bool{"1": true}, now, time.UTC)
}

func TestRenderView_Text(t *testing.T) {
	var buf bytes.Buffer
	renderView(&buf, sampleGroups())

	out := buf.String()
	assert.Contains(t, out, "── Today ──")
	assert.Contains(t, out, "Jane Doe\n")
	assert.Contains(t, out, " * [1] proofs are up")
	assert.Contains(t, out, "love×1")
	assert.Contains(t, out, "You\n")
	assert.Contains(t, out, "[2] thanks! (edited)")
}

func TestEncode_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, formatYAML, sampleGroups()))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Today", decoded[0]["label"])
	assert.Len(t, decoded[0]["items"], 2)
}

func TestValidFormat(t *testing.T) {
	assert.NoError(t, validFormat("yaml"))
	assert.Error(t, validFormat("xml"))
}

func TestRenderList_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderList(&buf, nil)
	assert.Equal(t, "(no messages)\n", buf.String())
}
