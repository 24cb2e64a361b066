package session

import (
	"time"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/reaction"
)

// TimestampGap 同一发送者相邻消息间隔超过该值时显示时间
const TimestampGap = 5 * time.Minute

// Item 渲染用的单条消息
type Item struct {
	Message       model.Message    `yaml:"message"`
	Mine          bool             `yaml:"mine"`
	Starred       bool             `yaml:"starred"`
	ShowAvatar    bool             `yaml:"showAvatar"`    // 同发送者连续段的最后一条
	ShowTimestamp bool             `yaml:"showTimestamp"` // 段尾，或与下一条间隔超过 TimestampGap
	FirstInRun    bool             `yaml:"firstInRun"`    // 圆角：段首
	LastInRun     bool             `yaml:"lastInRun"`     // 圆角：段尾
	Reactions     []reaction.Count `yaml:"reactions,omitempty"`
	ThreadLabel   string           `yaml:"threadLabel,omitempty"`
}

// DayGroup 按自然日分组
type DayGroup struct {
	Label string    `yaml:"label"`
	Day   time.Time `yaml:"day"`
	Items []Item    `yaml:"items"`
}

// DayLabel 今天 / 昨天 / 日期
func DayLabel(day, now time.Time, loc *time.Location) string {
	d := truncateDay(day, loc)
	today := truncateDay(now, loc)

	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return d.Format("Jan 2, 2006")
	}
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Group 按日分组并计算连续段信号，messages 需按时间正序
func Group(messages []model.Message, actor model.Sender, starred map[string]bool, now time.Time, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	for _, m := range messages {
		day := truncateDay(m.CreatedAt, loc)
		if len(groups) == 0 || !groups[len(groups)-1].Day.Equal(day) {
			groups = append(groups, DayGroup{Label: DayLabel(day, now, loc), Day: day})
		}
		g := &groups[len(groups)-1]
		g.Items = append(g.Items, Item{
			Message:     m,
			Mine:        m.Sender.Key() == actor.Key(),
			Starred:     starred[m.ID],
			Reactions:   reaction.Aggregate(m.Reactions),
			ThreadLabel: reaction.ThreadLabel(m.ThreadCount),
		})
	}

	for gi := range groups {
		items := groups[gi].Items
		for i := range items {
			cur := &items[i]
			key := cur.Message.Sender.Key()

			cur.FirstInRun = i == 0 || items[i-1].Message.Sender.Key() != key
			cur.LastInRun = i == len(items)-1 || items[i+1].Message.Sender.Key() != key
			cur.ShowAvatar = cur.LastInRun

			cur.ShowTimestamp = cur.LastInRun
			if !cur.LastInRun && items[i+1].Message.CreatedAt.Sub(cur.Message.CreatedAt) > TimestampGap {
				cur.ShowTimestamp = true
			}
		}
	}
	return groups
}
