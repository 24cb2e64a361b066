package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/reaction"
	"sudooom.im.chatsync/internal/session"
)

// 输出格式
const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

func validFormat(f string) error {
	switch f {
	case formatText, formatYAML, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, yaml or json)", f)
}

// encode 以 yaml 或 json 输出任意结构
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// renderView 文本方式输出分组视图
func renderView(w io.Writer, groups []session.DayGroup) {
	for _, g := range groups {
		fmt.Fprintf(w, "── %s ──\n", g.Label)
		for _, item := range g.Items {
			renderItem(w, item)
		}
	}
}

func renderItem(w io.Writer, item session.Item) {
	m := item.Message

	if item.FirstInRun {
		name := m.DisplayName()
		if item.Mine {
			name = "You"
		}
		fmt.Fprintf(w, "%s\n", name)
	}

	star := " "
	if item.Starred {
		star = "*"
	}
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Fprintf(w, " %s [%s] %s%s\n", star, m.ID, m.Content, edited)

	for _, a := range m.Attachments {
		fmt.Fprintf(w, "     📎 %s %s (%s) %s\n", a.Type, a.Name, humanize.Bytes(uint64(max(a.Size, 0))), a.URL)
	}
	if len(item.Reactions) > 0 {
		fmt.Fprintf(w, "     %s\n", formatReactions(item.Reactions))
	}
	if item.ThreadLabel != "" {
		fmt.Fprintf(w, "     ↳ %s\n", item.ThreadLabel)
	}
	if item.ShowTimestamp {
		fmt.Fprintf(w, "     %s\n", m.CreatedAt.Local().Format("15:04"))
	}
}

func formatReactions(counts []reaction.Count) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s×%d", c.Kind, c.Count))
	}
	return strings.Join(parts, "  ")
}

// renderList 平铺输出消息（搜索、线程）
func renderList(w io.Writer, messages []model.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range messages {
		fmt.Fprintf(w, "[%s] %s %s: %s\n",
			m.ID, m.CreatedAt.Local().Format("Jan 2 15:04"), m.DisplayName(), m.Content)
	}
}
