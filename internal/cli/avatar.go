package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/weird/pkg/types"
	"github.com/mesh-intelligence/weird/pkg/weird"
)

func newAvatarCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatar",
		Short: "Read and write profile avatars",
	}
	cmd.AddCommand(newAvatarGetCmd(e), newAvatarSetCmd(e))
	return cmd
}

func newAvatarGetCmd(e *env) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Write the avatar of a user to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			author, ok, err := w.UserAuthor(cmd.Context(), userSegment(args[0]))
			if err != nil {
				return sysError("look up user %q: %w", args[0], err)
			}
			if !ok {
				return userError("user %q: %w", args[0], types.ErrNotFound)
			}
			a, err := w.GetAvatar(cmd.Context(), author)
			if err != nil {
				return sysError("read avatar: %w", err)
			}
			if a == nil {
				return userError("user %q has no avatar: %w", args[0], types.ErrNotFound)
			}
			if err := writeOutput(cmd, out, a.Data); err != nil {
				return sysError("write avatar: %w", err)
			}
			if out != "" && out != "-" {
				fmt.Fprintln(cmd.OutOrStdout(), a.ContentType)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newAvatarSetCmd(e *env) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "set <user-id> <file>",
		Short: "Set the avatar of a user from an image file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return userError("read avatar: %w", err)
			}
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}

			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			author, err := w.GetOrInitAuthor(cmd.Context(), userSegment(args[0]))
			if err != nil {
				return sysError("author for user %q: %w", args[0], err)
			}
			if err := w.SetAvatar(cmd.Context(), author, weird.Avatar{Data: data, ContentType: contentType}); err != nil {
				return sysError("set avatar: %w", err)
			}
			e.logger.Info("avatar updated", "user_id", args[0], "content_type", contentType, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type (default: detected from the data)")
	return cmd
}
