package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/metrics"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/typing"
)

var (
	backgrounded bool
	interactive  bool
)

// watchCmd 持续轮询并输出新消息，可选从标准输入发送
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the conversation as new messages arrive",
	Long: `Poll the conversation and print messages as they appear.

With --background the view is treated as backgrounded, so new messages from
others raise notifications. With --interactive every line read from stdin is
sent as a message.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	s := e.session
	s.SetBackgrounded(backgrounded)
	s.SetNotificationsPermitted(true)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	if e.natsc != nil && e.tracker != nil {
		stop, err := typing.Listen(e.natsc, e.tracker, e.actor.Key())
		if err != nil {
			slog.Warn("Failed to subscribe to typing events", "error", err)
		} else {
			defer stop()
			trackerCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go e.tracker.Run(trackerCtx)
			go printTyping(trackerCtx, cmd.ErrOrStderr(), e.tracker, s.Conversation().ID)
		}
	}

	if err := s.Start(); err != nil {
		return err
	}

	if interactive {
		go readLines(ctx, cmd, e)
	}

	out := cmd.OutOrStdout()
	printed := make(map[string]bool)
	interval := cfg.Client.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		for _, m := range s.Messages() {
			if printed[m.ID] {
				continue
			}
			printed[m.ID] = true
			printMessage(out, m, e.actor)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printMessage(w io.Writer, m model.Message, actor model.Sender) {
	name := m.DisplayName()
	if m.Sender.Key() == actor.Key() {
		name = "You"
	}
	line := fmt.Sprintf("%s %s: %s", m.CreatedAt.Local().Format("15:04"), name, m.Content)
	if n := len(m.Attachments); n > 0 {
		line += fmt.Sprintf(" [%d attachment(s)]", n)
	}
	fmt.Fprintf(w, "%s  (%s)\n", line, m.ID)
}

// printTyping 输出输入状态变化
func printTyping(ctx context.Context, w io.Writer, tracker *typing.Tracker, conversationID string) {
	updates, cancel := tracker.Subscribe(conversationID)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-updates:
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			names := make([]string, 0, len(events))
			for _, ev := range events {
				names = append(names, ev.Name)
			}
			fmt.Fprintf(w, "… %s typing\n", strings.Join(names, ", "))
		}
	}
}

// readLines 交互模式：每行作为一条消息发送
func readLines(ctx context.Context, cmd *cobra.Command, e *env) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		e.session.SetDraft(text, len([]rune(text)))
		sendCtx, cancel := context.WithTimeout(ctx, cfg.Client.RequestTimeout)
		if _, err := e.session.Send(sendCtx, nil); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
		}
		cancel()
	}
}

func init() {
	watchCmd.Flags().BoolVarP(&backgrounded, "background", "b", false, "Treat the view as backgrounded and raise notifications")
	watchCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Send each stdin line as a message")
}
