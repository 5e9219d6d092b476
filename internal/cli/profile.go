package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/weird/pkg/gdata"
	"github.com/mesh-intelligence/weird/pkg/types"
	"github.com/mesh-intelligence/weird/pkg/weird"
)

// profileEntry is one row of profile output.
type profileEntry struct {
	UserID  string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Author  types.AuthorID `json:"author" yaml:"author"`
	Profile weird.Profile  `json:"profile" yaml:"profile"`
}

func newProfileCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage user profiles",
	}
	cmd.AddCommand(
		newProfileListCmd(e),
		newProfileGetCmd(e),
		newProfileGetByNameCmd(e),
		newProfileSetCmd(e),
		newProfileDeleteCmd(e),
		newProfileRegisterCmd(e),
	)
	return cmd
}

// userSegment is the key segment a user id is stored under.
func userSegment(id string) gdata.KeySegment { return gdata.SegStr(id) }

// mapNotFound turns ErrNotFound into a user error and anything else into a
// system error.
func mapNotFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, types.ErrNotFound) {
		return userError("%s: %w", msg, err)
	}
	return sysError("%s: %w", msg, err)
}

func newProfileListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every profile on this instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			entries := []profileEntry{}
			for ap, err := range w.Profiles(cmd.Context()) {
				if err != nil {
					return sysError("list profiles: %w", err)
				}
				entries = append(entries, profileEntry{Author: ap.Author, Profile: ap.Profile})
			}
			return e.print(cmd, entries)
		},
	}
}

func newProfileGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show the profile of a user",
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
			p, err := w.GetProfile(cmd.Context(), author)
			if err != nil {
				return mapNotFound(err, "user %q", args[0])
			}
			return e.print(cmd, profileEntry{UserID: args[0], Author: author, Profile: p})
		},
	}
}

func newProfileGetByNameCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get-by-name <username>",
		Short: "Show the profile holding a username, on this or another instance",
		Example: `  weird profile get-by-name alice
  weird profile get-by-name carol@other.example`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			u, err := w.ParseUsername(args[0])
			if err != nil {
				return userError("%w", err)
			}
			p, err := w.GetProfileByName(cmd.Context(), u)
			if err != nil {
				if errors.Is(err, types.ErrAbsent) {
					return userError("%s: %w", u, err)
				}
				return mapNotFound(err, "%s", u)
			}
			return e.print(cmd, p)
		},
	}
}

func newProfileSetCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set <user-id> -f <file>",
		Short: "Replace the profile of a user from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return userError("read profile: %w", err)
			}
			p, err := weird.ParseProfile(data)
			if err != nil {
				return userError("%w", err)
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
			if err := w.SetProfile(cmd.Context(), author, p); err != nil {
				if errors.Is(err, types.ErrUsernameConflict) || errors.Is(err, types.ErrDomainMismatch) {
					return userError("%w", err)
				}
				return sysError("set profile: %w", err)
			}
			e.logger.Info("profile updated", "user_id", args[0], "author", author.Short())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "profile file, - for stdin")
	return cmd
}

func newProfileDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete the profile of a user and release its username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.DeleteProfile(cmd.Context(), userSegment(args[0])); err != nil {
				return mapNotFound(err, "delete profile of %q", args[0])
			}
			e.logger.Info("profile deleted", "user_id", args[0])
			return nil
		},
	}
}

func newProfileRegisterCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Allocate a new user id and its author",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.NewV7()
			if err != nil {
				return sysError("generate user id: %w", err)
			}
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			author, err := w.GetOrInitAuthor(cmd.Context(), userSegment(id.String()))
			if err != nil {
				return sysError("register user: %w", err)
			}
			return e.print(cmd, struct {
				UserID string         `json:"user_id" yaml:"user_id"`
				Author types.AuthorID `json:"author" yaml:"author"`
			}{id.String(), author})
		},
	}
}
