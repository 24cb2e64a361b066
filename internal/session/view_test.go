package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/reaction"
)

// signals 只比较分组信号
type signals struct {
	ID            string
	ShowAvatar    bool
	ShowTimestamp bool
	FirstInRun    bool
	LastInRun     bool
}

func collect(groups []DayGroup) map[string][]signals {
	out := make(map[string][]signals, len(groups))
	for _, g := range groups {
		for _, it := range g.Items {
			out[g.Label] = append(out[g.Label], signals{
				ID:            it.Message.ID,
				ShowAvatar:    it.ShowAvatar,
				ShowTimestamp: it.ShowTimestamp,
				FirstInRun:    it.FirstInRun,
				LastInRun:     it.LastInRun,
			})
		}
	}
	return out
}

func TestGroup_RunsAndTimestampGap(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	messages := []model.Message{
		msg("a", jane, "1", t0),
		msg("b", jane, "2", t0.Add(4*time.Minute)),  // 与下一条间隔 10 分钟
		msg("c", jane, "3", t0.Add(14*time.Minute)), // 段尾
		msg("d", me, "4", t0.Add(15*time.Minute)),
		msg("e", me, "5", t0.Add(16*time.Minute)),
	}

	got := collect(Group(messages, me, nil, now, time.UTC))
	want := map[string][]signals{
		"Today": {
			{ID: "a", FirstInRun: true},
			{ID: "b", ShowTimestamp: true},
			{ID: "c", ShowAvatar: true, ShowTimestamp: true, LastInRun: true},
			{ID: "d", FirstInRun: true},
			{ID: "e", ShowAvatar: true, ShowTimestamp: true, LastInRun: true},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Group() mismatch (-want +got):\n%s", diff)
	}
}

func TestGroup_TimestampBoundary(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"under five minutes", 4*time.Minute + 59*time.Second, false},
		{"exactly five minutes", 5 * time.Minute, false},
		{"over five minutes", 5*time.Minute + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := Group([]model.Message{
				msg("a", jane, "1", t0),
				msg("b", jane, "2", t0.Add(tt.gap)),
			}, me, nil, now, time.UTC)

			require.Len(t, groups, 1)
			assert.Equal(t, tt.want, groups[0].Items[0].ShowTimestamp)
			assert.True(t, groups[0].Items[1].ShowTimestamp)
		})
	}
}

func TestGroup_DayLabelsAndRunBreaks(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	messages := []model.Message{
		msg("a", jane, "old", time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)),
		msg("b", jane, "late", time.Date(2026, 3, 13, 23, 58, 0, 0, time.UTC)),
		msg("c", jane, "early", time.Date(2026, 3, 14, 0, 1, 0, 0, time.UTC)),
	}

	groups := Group(messages, me, map[string]bool{"c": true}, now, time.UTC)
	require.Len(t, groups, 3)
	assert.Equal(t, "Mar 10, 2026", groups[0].Label)
	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Equal(t, "Today", groups[2].Label)

	// 跨日断开连续段
	assert.True(t, groups[1].Items[0].LastInRun)
	assert.True(t, groups[2].Items[0].FirstInRun)
	assert.True(t, groups[2].Items[0].Starred)
	assert.False(t, groups[2].Items[0].Mine)
}

func TestGroup_LocationDecidesDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, tokyo)

	// UTC 3 月 13 日 20:00 即东京 3 月 14 日 05:00
	m := msg("a", jane, "hi", time.Date(2026, 3, 13, 20, 0, 0, 0, time.UTC))
	groups := Group([]model.Message{m}, me, nil, now, tokyo)
	require.Len(t, groups, 1)
	assert.Equal(t, "Today", groups[0].Label)
}

func TestGroup_ItemAggregates(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	m := msg("a", me, "hi", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	m.ThreadCount = 2
	m.Reactions = []model.Reaction{
		{MessageID: "a", Reactor: jane, Kind: model.ReactionLove},
		{MessageID: "a", Reactor: me, Kind: model.ReactionLike},
	}

	groups := Group([]model.Message{m}, me, nil, now, time.UTC)
	item := groups[0].Items[0]
	assert.True(t, item.Mine)
	assert.Equal(t, "2 replies", item.ThreadLabel)
	assert.Equal(t, []reaction.Count{
		{Kind: model.ReactionLike, Count: 1},
		{Kind: model.ReactionLove, Count: 1},
	}, item.Reactions)
}

func TestGroup_Empty(t *testing.T) {
	assert.Empty(t, Group(nil, me, nil, time.Now(), time.UTC))
}
