package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/messaging"
	"github.com/contactbump/exchange/internal/profile"
	"github.com/contactbump/exchange/internal/session"
)

func newPendingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List sessions waiting for a match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			ids, err := svc.Pending().Members(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUSER\tCONFIDENCE\tLOCATION\tAGE\tPAIRING")
			for _, id := range ids {
				p, err := svc.Pending().Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Fprintf(tw, "%s\t-\t-\t(expired)\t-\t-\n", id)
					continue
				}
				age := time.Since(time.UnixMilli(p.Timestamp)).Round(time.Millisecond)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s/%s\t%s\t%s\n",
					p.SessionID, p.UserID, p.Location.Confidence,
					p.Location.City, p.Location.State, p.Location.Country,
					age, p.PendingMatchWith)
			}
			return tw.Flush()
		},
	}
}

func newMatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match <token>",
		Short: "Show a confirmed match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			m, err := svc.Records().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if m == nil {
				return matching.ErrMatchNotFound
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
}

func newCancelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Withdraw a session's pending exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions from the pending index once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n := matching.SweepIndex(cmd.Context(), svc.Pending())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale entries\n", n)
			return nil
		},
	}
}

func newSessionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage exchange sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <session-id> <user-id>",
		Short: "Register a session for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, closeFn, err := opts.redisClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := session.NewStore(rdb).Create(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s -> %s (ttl %s)\n", args[0], args[1], session.SessionTTL)
			return nil
		},
	}, &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Remove a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, closeFn, err := opts.redisClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			return session.NewStore(rdb).Delete(cmd.Context(), args[0])
		},
	})
	return cmd
}

func newProfileCommand(opts *rootOptions) *cobra.Command {
	var category, payload string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage contact payloads",
	}

	put := &cobra.Command{
		Use:   "put <profile-id> <user-id>",
		Short: "Store the payload a profile shares for a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return errors.New("--database-url is required")
			}
			store, err := profile.Open(cmd.Context(), opts.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(); err != nil {
				return err
			}
			return store.Put(cmd.Context(), args[0], args[1], category, json.RawMessage(payload))
		},
	}
	put.Flags().StringVar(&category, "category", profile.DefaultCategory, "sharing category")
	put.Flags().StringVar(&payload, "payload", "", "contact payload as JSON (required)")
	_ = put.MarkFlagRequired("payload")

	cmd.AddCommand(put)
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Print match notifications as they are published",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.NATSURL == "" {
				return errors.New("--nats-url is required")
			}
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}

			natsConfig := messaging.DefaultNATSConfig()
			natsConfig.URL = opts.NATSURL
			natsConfig.Name = "exchangectl"
			client, err := messaging.NewNATSClient(natsConfig)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			err = client.SubscribeExchangeMatched(sessionID, func(sid string, data []byte) {
				fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), sid, data)
			})
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-cmd.Context().Done():
			}
			return client.UnsubscribeExchangeMatched(sessionID)
		},
	}
}
