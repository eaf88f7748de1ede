// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/tpcbridge/internal/bridge"
	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/toeirei/tpcbridge/internal/i18n"
	"github.com/toeirei/tpcbridge/internal/logging"
	"github.com/toeirei/tpcbridge/internal/session"
	"github.com/toeirei/tpcbridge/internal/tpc"
	"golang.org/x/term"
)

// stdinIsTerminal reports whether resolve may prompt. Tests replace it.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to the backend and report its capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, i18n.T("check.header", e.Type))
			_, _ = fmt.Fprintln(out, i18n.T("check.dialect", e.Dialect.Name()))
			_, _ = fmt.Fprintln(out, i18n.T("check.two_phase", e.Caps.TwoPhase))
			_, _ = fmt.Fprintln(out, i18n.T("check.savepoints", e.Caps.Savepoints))
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bundled schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("migrate.done", e.Type))
			return nil
		},
	}
}

func newSmokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Write one probe row through a full coordinator commit",
		Long: `smoke joins a session to a fresh transaction, inserts a row into
tpcbridge_probe and commits through the coordinator, so the whole
begin, vote and finish sequence runs against the configured backend.
With session.readonly set it only reads, and the commit is elided.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEngine(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := runSmoke(ctx, e, appConfig.Session.ReadOnly, cmd.OutOrStdout()); err != nil {
				return errors.New(i18n.T("smoke.failed", err))
			}
			return nil
		},
	}
}

func runSmoke(ctx context.Context, e *db.Engine, readOnly bool, out io.Writer) error {
	logger := logging.With("component", "smoke")
	mgr, err := tpc.NewManager(tpc.WithLogger(logger))
	if err != nil {
		return err
	}
	database := bridge.NewDatabase(e,
		[]session.FactoryOption{session.WithReadOnly(readOnly)},
		bridge.WithLogger(logger))

	txn, ctx := mgr.Begin(ctx)
	sess, err := database.Session(ctx)
	if err != nil {
		return errors.Join(err, txn.Abort(ctx))
	}

	if readOnly {
		q, err := sess.NewSelect(ctx)
		if err == nil {
			_, err = q.Model((*db.ProbeRow)(nil)).Count(sess.Context(ctx))
		}
		if err != nil {
			return errors.Join(err, txn.Abort(ctx))
		}
		if err := txn.Commit(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, i18n.T("smoke.elided"))
		return nil
	}

	row := &db.ProbeRow{Note: "smoke " + txn.ID(), CreatedAt: time.Now().UTC()}
	if err := sess.Add(row); err != nil {
		return errors.Join(err, txn.Abort(ctx))
	}
	if err := txn.Commit(ctx); err != nil {
		var inDoubt *bridge.InDoubtError
		if errors.As(err, &inDoubt) {
			logging.Errorf("transaction %s is in doubt; inspect it with 'tpcbridge prepared'", inDoubt.XID)
		}
		return err
	}

	n, err := db.CountRows(ctx, e.DB, "tpcbridge_probe")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, i18n.T("smoke.committed", n))
	return nil
}

func newPreparedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepared",
		Short: "List transactions prepared by tpcbridge but never finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			xids, err := db.Recover(cmd.Context(), e)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(xids) == 0 {
				_, _ = fmt.Fprintln(out, i18n.T("prepared.none"))
				return nil
			}
			_, _ = fmt.Fprintln(out, i18n.T("prepared.header"))
			for _, xid := range xids {
				_, _ = fmt.Fprintf(out, "  %s\n", xid)
			}
			return nil
		},
	}
}

func newResolveCmd() *cobra.Command {
	var commit, rollback, yes bool
	cmd := &cobra.Command{
		Use:   "resolve <xid>",
		Short: "Commit or roll back a transaction left prepared",
		Long: `resolve finishes an in-doubt transaction by hand. Only use it once
you know the outcome the coordinator decided on: committing a
transaction the coordinator aborted (or the reverse) breaks atomicity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if commit == rollback {
				return errors.New(i18n.T("resolve.need_action"))
			}
			action := "rollback"
			if commit {
				action = "commit"
			}
			xid := args[0]

			if !yes {
				if !stdinIsTerminal() {
					return errors.New(i18n.T("resolve.need_yes"))
				}
				if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), i18n.T("resolve.confirm", xid, action)) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("resolve.cancelled"))
					return nil
				}
			}

			e, err := openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := db.Resolve(cmd.Context(), e, xid, commit); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("resolve.done", xid, action))
			return nil
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the prepared transaction")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Roll back the prepared transaction")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirm prints prompt and reads one answer line from in.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "j", "ja":
		return true
	}
	return false
}
