package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
)

// A very simple CLI tool for the administration of the conference record store. File-backed stores are locked while
// the server runs, so stop the server first.

var (
	configPath string
	persister  persistence.Persister
)

func readDefinition(arg string) io.Reader {
	if arg == "-" {
		return os.Stdin
	}
	return bytes.NewReader([]byte(arg))
}

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
	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:           "conference-admin",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
			persister, err = persistence.NewPersister(cfg.PersistenceConfig)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if persister != nil {
				_ = persister.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users, messages, polls or the schedule",
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all users.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := persister.GetUsers()
			if err != nil {
				return err
			}
			return printJSON(users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			user, err := persister.GetUser(id)
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages",
		Short: "Show messages",
		Long:  `shows all chat messages, oldest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := persister.GetMessages()
			if err != nil {
				return err
			}
			return printJSON(messages)
		},
	}
	var cmdShowPolls = &cobra.Command{
		Use:   "polls",
		Short: "Show polls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			polls, err := persister.GetPolls()
			if err != nil {
				return err
			}
			return printJSON(polls)
		},
	}
	var cmdShowSchedule = &cobra.Command{
		Use:   "schedule",
		Short: "Show the schedule",
		Long:  `shows the schedule ordered by day and start time.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := persister.GetSchedule()
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}

	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update a user, poll or schedule item",
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long:  `set user creates or replaces a user with the given JSON definition. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := types.User{}
			if err := json.NewDecoder(readDefinition(args[0])).Decode(&user); err != nil {
				return errors.Wrap(err, "could not decode user")
			}
			if user.Id == 0 {
				return errors.New("no user id")
			}
			if user.Role == "" {
				user.Role = types.RoleParticipant
			}
			if !types.ValidRole(user.Role) {
				return errors.Errorf("invalid role %q", user.Role)
			}
			stored, err := persister.StoreUser(user)
			if err != nil {
				return err
			}
			return printJSON(stored)
		},
	}
	var cmdSetPoll = &cobra.Command{
		Use:   "poll [poll definition]",
		Short: "Set poll",
		Long:  `set poll creates or replaces a poll with the given JSON definition. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poll := types.Poll{}
			if err := json.NewDecoder(readDefinition(args[0])).Decode(&poll); err != nil {
				return errors.Wrap(err, "could not decode poll")
			}
			stored, err := persister.StorePoll(poll)
			if err != nil {
				return err
			}
			return printJSON(stored)
		},
	}
	var cmdSetSchedule = &cobra.Command{
		Use:   "schedule [item definition]",
		Short: "Set schedule item",
		Long:  `set schedule creates or replaces a schedule item. Without an id a new one is assigned. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := types.ScheduleItem{}
			if err := json.NewDecoder(readDefinition(args[0])).Decode(&item); err != nil {
				return errors.Wrap(err, "could not decode schedule item")
			}
			stored, err := persister.StoreScheduleItem(item)
			if err != nil {
				return err
			}
			return printJSON(stored)
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete a user, message or schedule item",
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			return persister.DeleteUser(id)
		},
	}
	var cmdDeleteMessage = &cobra.Command{
		Use:   "message [message id]",
		Short: "Delete chat message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			return persister.DeleteMessage(id)
		},
	}
	var cmdDeleteSchedule = &cobra.Command{
		Use:   "schedule [item id]",
		Short: "Delete schedule item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			return persister.DeleteScheduleItem(id)
		},
	}

	var cmdCompact = &cobra.Command{
		Use:   "compact",
		Short: "Compact the store",
		Long:  `compact reclaims space of stores that support it (buntdb).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			compactor, ok := persister.(persistence.Compactor)
			if !ok {
				globals.AppLogger.Info("store does not support compaction")
				return nil
			}
			return compactor.Compact()
		},
	}

	rootCmd.AddCommand(cmdShow, cmdSet, cmdDelete, cmdCompact)
	cmdShow.AddCommand(cmdShowUsers, cmdShowUser, cmdShowMessages, cmdShowPolls, cmdShowSchedule)
	cmdSet.AddCommand(cmdSetUser, cmdSetPoll, cmdSetSchedule)
	cmdDelete.AddCommand(cmdDeleteUser, cmdDeleteMessage, cmdDeleteSchedule)
	if err := rootCmd.Execute(); err != nil {
		globals.AppLogger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
