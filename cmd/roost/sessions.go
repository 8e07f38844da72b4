package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dcrodman/roost/internal/core/data"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Lists the most recent sessions recorded in the database",
	RunE:  SessionsCommand,
}

var LimitFlag int

func SessionsCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := data.Initialize(cfg)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer data.Shutdown(db)

	sessions, err := data.FindRecentSessions(db, LimitFlag)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSERVER\tCONN\tADDRESS\tACCEPTED\tDURATION\tREASON")
	for _, s := range sessions {
		duration := "open"
		if s.DisconnectedAt != nil {
			duration = s.DisconnectedAt.Sub(s.AcceptedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.ID, s.ServerName, s.ConnectionID, s.RemoteAddr,
			s.AcceptedAt.Format("2006-01-02 15:04:05"), duration, s.DisconnectReason)
	}
	return w.Flush()
}
