package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/send"
)

var (
	attachPaths []string
	replyTo     string
)

// sendCmd 发送消息，可附带文件
var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send a message with optional attachments",
	Long: `Send a message to the conversation.

Attachments are uploaded in parallel before the message is created. Files that
fail to upload are skipped and reported; if no upload target can be obtained the
text is sent alone when client.text_only_fallback is enabled. With --reply-to the
message is posted as a thread reply.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]model.LocalFile, 0, len(attachPaths))
		for _, p := range attachPaths {
			f, err := model.FileFromPath(p)
			if err != nil {
				return fmt.Errorf("attach %s: %w", p, err)
			}
			files = append(files, f)
		}

		e, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		text := strings.Join(args, " ")
		e.session.SetDraft(text, len([]rune(text)))
		e.session.AttachFiles(files...)

		out := cmd.ErrOrStderr()
		var mu sync.Mutex
		progress := func(fraction float64) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "\ruploading %3.0f%%", fraction*100)
			if fraction >= 1 {
				fmt.Fprintln(out)
			}
		}

		var res *send.Result
		if replyTo != "" {
			res, err = e.session.SendReply(cmd.Context(), replyTo, progress)
		} else {
			res, err = e.session.Send(cmd.Context(), progress)
		}
		if err != nil {
			return err
		}

		if res.Notice != "" {
			fmt.Fprintln(out, res.Notice)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", res.Message.ID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringArrayVarP(&attachPaths, "file", "a", nil, "Attach a file (repeatable)")
	sendCmd.Flags().StringVar(&replyTo, "reply-to", "", "Reply in the thread of this message id")
}
