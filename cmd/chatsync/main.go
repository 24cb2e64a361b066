package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/client"
	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/internal/mention"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/internal/notify"
	"sudooom.im.chatsync/internal/session"
	"sudooom.im.chatsync/internal/typing"
)

var (
	configPath     string
	conversationID string
	verbose        bool

	cfg *config.Config
)

// rootCmd 会话命令行客户端
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Conversation messaging client",
	Long: `chatsync talks to a chatsync-api backend on behalf of one actor.

Identity, backend address and polling behaviour come from configs/config.yaml,
.env and CHATSYNC_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 不存在时忽略
		_ = godotenv.Load()

		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if conversationID != "" {
			cfg.Client.ConversationID = conversationID
		}

		level := slog.LevelWarn
		if verbose || strings.EqualFold(cfg.App.LogLevel, "debug") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: defaults + env only)")
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Conversation id (overrides client.conversation_id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(watchCmd, sendCmd, viewCmd, searchCmd, threadCmd, reactCmd, editCmd, deleteCmd, unreadCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// actorFromConfig 本地身份
func actorFromConfig(c config.ClientConfig) model.Sender {
	return model.Sender{UserID: c.ActorUserID, ClientID: c.ActorClientID, Name: c.ActorName}
}

// env 一次命令需要的全部依赖
type env struct {
	client  *client.Client
	session *session.Session
	tracker *typing.Tracker
	natsc   *nats.Client
	actor   model.Sender
}

// Close 释放会话和 NATS 连接
func (e *env) Close() {
	e.session.Close()
	if e.natsc != nil {
		e.natsc.Close()
	}
}

// openSession 读取会话快照并组装 Session
func openSession(ctx context.Context) (*env, error) {
	cc := cfg.Client
	if cc.ConversationID == "" {
		return nil, fmt.Errorf("no conversation: set --conversation or client.conversation_id")
	}
	actor := actorFromConfig(cc)
	if actor.IsZero() {
		return nil, fmt.Errorf("no identity: set client.actor_user_id, actor_client_id or actor_name")
	}

	strictness, err := mention.ParseStrictness(cc.MentionStrictness)
	if err != nil {
		return nil, err
	}
	loc, err := cc.LoadLocation()
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}

	api := client.New(client.Config{BaseURL: cc.BaseURL, Actor: actor, Timeout: cc.RequestTimeout})
	conv, err := api.GetConversation(ctx, cc.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	e := &env{client: api, actor: actor}
	notifiers := notify.Multi{notify.NewLogNotifier(conv.ID)}
	var typingSignal session.TypingSignal

	if cfg.NATS.Enabled {
		nc, err := nats.NewClient(cfg.NATS)
		if err != nil {
			slog.Warn("NATS unavailable, typing and push notifications disabled", "error", err)
		} else {
			e.natsc = nc
			notifiers = append(notifiers, notify.NewNATSNotifier(nc, conv.ID, actor.Key()))
			typingSignal = typing.NewBroadcaster(nc, actor.Key(), displayName(conv, actor), cfg.Typing.Debounce)
			e.tracker = typing.NewTracker(cfg.Typing.TTL)
		}
	}

	e.session = session.New(session.Options{
		Conversation:      conv,
		Actor:             actor,
		Backend:           api,
		Notifier:          notifiers,
		Typing:            typingSignal,
		PollInterval:      cc.PollInterval,
		PageLimit:         cc.PageLimit,
		UploadParallel:    cc.UploadParallel,
		FallbackTextOnly:  cc.TextOnlyFallback,
		MentionStrictness: strictness,
		Location:          loc,
	})
	return e, nil
}

// displayName 参与者展示名，找不到时使用配置名
func displayName(conv *model.Conversation, actor model.Sender) string {
	for _, p := range conv.Participants {
		if p.Sender().Key() == actor.Key() {
			return p.DisplayName
		}
	}
	if actor.Name != "" {
		return actor.Name
	}
	return actor.Key()
}
