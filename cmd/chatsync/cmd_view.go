package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/model"
)

var outputFormat string

// viewCmd 输出当前会话的分组视图
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the conversation grouped by day",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}

		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.session.Load(cmd.Context()); err != nil {
			return err
		}

		groups := e.session.View(time.Now())
		if outputFormat == formatText {
			renderView(cmd.OutOrStdout(), groups)
			return nil
		}
		return encode(cmd.OutOrStdout(), outputFormat, groups)
	},
}

// searchCmd 搜索消息
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages in the conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}

		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		results, err := e.session.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printMessages(cmd, results)
	},
}

// threadCmd 输出某条消息的回复
var threadCmd = &cobra.Command{
	Use:   "thread <message-id>",
	Short: "Show replies to a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(outputFormat); err != nil {
			return err
		}

		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		replies, err := e.session.Thread(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printMessages(cmd, replies)
	},
}

// unreadCmd 输出未读数
var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread count for the conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.client.Unread(cmd.Context(), e.session.Conversation().ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func printMessages(cmd *cobra.Command, messages []model.Message) error {
	if outputFormat == formatText {
		renderList(cmd.OutOrStdout(), messages)
		return nil
	}
	return encode(cmd.OutOrStdout(), outputFormat, messages)
}

func init() {
	for _, c := range []*cobra.Command{viewCmd, searchCmd, threadCmd} {
		c.Flags().StringVarP(&outputFormat, "format", "f", formatText, "Output format: text, yaml or json")
	}
}
