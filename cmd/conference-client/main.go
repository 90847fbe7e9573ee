package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-conference/channel"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/session"
	"github.com/tcriess/lightspeed-conference/types"
)

// A command-line conference client. Every command opens a session, which bootstraps the user, pulls the server's
// data into the local store and connects the realtime channel. Use a store that is not shared with the server, e.g.
// --persistence-type memory.

var (
	configPath string
	userId     int64
	userName   string
	sess       *session.Session
)

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseId(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:           "conference-client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
			user := types.User{Id: userId, Name: userName}
			sess, err = session.Open(cmd.Context(), cfg, user, nil)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if sess != nil {
				_ = sess.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().Int64VarP(&userId, "user", "u", 0, "id of the signed-in user")
	rootCmd.PersistentFlags().StringVarP(&userName, "name", "n", "", "display name (a random name if empty)")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdMe = &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := sess.Store.GetUser(userId)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}
	var cmdUsers = &cobra.Command{
		Use:   "users",
		Short: "Show all known users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := sess.Coordinator.LoadUsers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(users)
		},
	}
	var cmdMessages = &cobra.Command{
		Use:   "messages",
		Short: "Show the chat messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := sess.Store.GetMessages()
			if err != nil {
				return err
			}
			return printJSON(messages)
		},
	}
	var cmdPolls = &cobra.Command{
		Use:   "polls",
		Short: "Show the polls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			polls, err := sess.Store.GetPolls()
			if err != nil {
				return err
			}
			return printJSON(polls)
		},
	}
	var cmdSchedule = &cobra.Command{
		Use:   "schedule",
		Short: "Show the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := sess.Store.GetSchedule()
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}

	var clicks int
	var cmdClick = &cobra.Command{
		Use:   "click",
		Short: "Click the coin button",
		Long:  `click counts a click, every tenth click earns 5 coins.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var user *types.User
			for i := 0; i < clicks; i++ {
				u, accepted, err := sess.Coordinator.Click(cmd.Context(), userId)
				if err != nil {
					return err
				}
				if accepted {
					user = u
				}
			}
			if user == nil {
				return nil
			}
			return printJSON(user)
		},
	}
	cmdClick.Flags().IntVar(&clicks, "times", 1, "number of clicks")

	var imageUrl string
	var cmdSend = &cobra.Command{
		Use:   "send [text]",
		Short: "Send a chat message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := sess.Coordinator.SendMessage(cmd.Context(), userId, args[0], imageUrl)
			if err != nil {
				return err
			}
			return printJSON(message)
		},
	}
	cmdSend.Flags().StringVar(&imageUrl, "image", "", "url of an attached image")

	var cmdLike = &cobra.Command{
		Use:   "like [message id]",
		Short: "Like a chat message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			liked, err := sess.Coordinator.LikeMessage(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !liked {
				globals.AppLogger.Info("message not liked", "message", id)
			}
			return nil
		},
	}

	var cmdCompletePoll = &cobra.Command{
		Use:   "complete-poll [poll id]",
		Short: "Complete a poll and collect its coins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			credited, err := sess.Coordinator.CompletePoll(cmd.Context(), userId, id)
			if err != nil {
				return err
			}
			if !credited {
				globals.AppLogger.Info("poll already completed", "poll", id)
			}
			user, err := sess.Store.GetUser(userId)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}

	var cmdProfile = &cobra.Command{
		Use:   "profile [patch]",
		Short: "Update the own profile",
		Long:  `profile merges the given JSON object (e.g. {"location":"Vienna"}) into the signed-in user.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := make(map[string]interface{})
			if err := json.Unmarshal([]byte(args[0]), &patch); err != nil {
				return errors.Wrap(err, "could not decode patch")
			}
			user, err := sess.Coordinator.UpdateProfile(cmd.Context(), userId, patch)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}

	var cmdWatch = &cobra.Command{
		Use:   "watch",
		Short: "Print realtime events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []channel.EventKind{channel.NewMessage, channel.UserUpdated, channel.MessageLiked,
				channel.UserJoined, channel.UserLeft, channel.ServerError, channel.StateChanged}
			for _, kind := range kinds {
				sub := sess.Channel.Subscribe(kind, func(event channel.Event) {
					if event.Kind == channel.StateChanged {
						fmt.Printf("%s %s\n", event.Kind, event.State)
						return
					}
					fmt.Printf("%s %s\n", event.Kind, string(event.Data))
				})
				defer sub.Unsubscribe()
			}
			<-cmd.Context().Done()
			return nil
		},
	}

	rootCmd.AddCommand(cmdMe, cmdUsers, cmdMessages, cmdPolls, cmdSchedule, cmdClick, cmdSend, cmdLike,
		cmdCompletePoll, cmdProfile, cmdWatch)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		globals.AppLogger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
