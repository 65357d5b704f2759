package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
)

func newMessageCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "message",
		Aliases: []string{"messages"},
		Short:   "Send and read conversation messages",
	}
	cmd.AddCommand(newMessageSendCommand(opts))
	cmd.AddCommand(newMessageReadCommand(opts))
	cmd.AddCommand(newMessageListCommand(opts))
	return cmd
}

func newMessageSendCommand(opts *RootOptions) *cobra.Command {
	var (
		m       models.Message
		attach  []string
		asImage bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message, optionally with attachments",
		Example: `  offsync message send --conversation c1 --sender u1 --recipient u2 \
    --content "Is it still available?" --attach ./plan.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			in := services.MessageInput{Message: m}
			for _, path := range attach {
				mi := services.MediaInput{Path: path}
				if asImage {
					mi.Kind = models.KindImage
				}
				in.Attachments = append(in.Attachments, mi)
			}

			res, err := a.Messages.Send(cmd.Context(), in)
			if err != nil {
				return out.Error(err)
			}
			view := services.View(res.Outcome)
			return out.Success(MutationResult{Record: res.Message, Outcome: view, Media: res.Attachments, Dropped: res.Dropped}, func(w io.Writer) {
				printOutcome(w, res.Message.ID, view)
				if len(res.Attachments) > 0 || res.Dropped > 0 {
					fmt.Fprintf(w, "  %d attachment(s), %d dropped\n", len(res.Attachments), res.Dropped)
				}
			})
		},
	}

	cmd.Flags().StringVar(&m.ConversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&m.SenderID, "sender", "", "sender user id")
	cmd.Flags().StringVar(&m.RecipientID, "recipient", "", "recipient user id")
	cmd.Flags().StringVar(&m.Content, "content", "", "message text")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "file to attach (repeatable)")
	cmd.Flags().BoolVar(&asImage, "images", false, "treat attachments as images and resize them")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("sender")
	return cmd
}

func newMessageReadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Messages.MarkRead(cmd.Context(), args[0])
			if err != nil {
				return out.Error(err)
			}
			view := services.View(res.Outcome)
			return out.Success(MutationResult{Record: res.Message, Outcome: view}, func(w io.Writer) {
				printOutcome(w, res.Message.ID, view)
			})
		},
	}
}

func newMessageListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List a conversation's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			msgs, err := a.Messages.Conversation(cmd.Context(), args[0])
			if err != nil {
				return out.Error(err)
			}
			return out.Success(msgs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSENT\tFROM\tREAD\tSTATUS\tCONTENT")
				for _, m := range msgs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", m.ID,
						time.UnixMilli(m.SentAt).Format(time.DateTime), m.SenderID, m.Read, m.SyncStatus, m.Content)
				}
				tw.Flush()
			})
		},
	}
}
