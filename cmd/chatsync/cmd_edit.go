package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/model"
)

var assumeYes bool

// editCmd 修改自己发送的消息
var editCmd = &cobra.Command{
	Use:   "edit <message-id> <content>",
	Short: "Edit one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.session.Load(cmd.Context()); err != nil {
			return err
		}
		if err := e.session.BeginEdit(args[0]); err != nil {
			return err
		}
		if err := e.session.UpdateEdit(args[1]); err != nil {
			return err
		}

		msg, err := e.session.SaveEdit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "edited %s\n", msg.ID)
		return nil
	},
}

// deleteCmd 删除自己发送的消息，需要确认
var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.session.Load(cmd.Context()); err != nil {
			return err
		}
		if err := e.session.RequestDelete(args[0]); err != nil {
			return err
		}

		if !assumeYes && !confirm(cmd, fmt.Sprintf("Delete message %s? [y/N] ", args[0])) {
			e.session.CancelDelete()
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		}

		if err := e.session.ConfirmDelete(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

// reactCmd 切换回应
var reactCmd = &cobra.Command{
	Use:   "react <message-id> <kind>",
	Short: "Toggle a reaction (like, love, laugh, wow, sad, celebrate)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		return e.session.React(cmd.Context(), args[0], model.ReactionKind(strings.ToLower(args[1])))
	},
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
}
