package commands

import (
	"context"
	"fmt"
	"time"

	"enrollassist-backend/internal/activation"
	"enrollassist-backend/internal/components/configutil"
	"enrollassist-backend/internal/components/recordstore"
	"enrollassist-backend/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var codesFlags struct {
	db    string
	url   string
	count int
	uses  int
	note  string
}

func init() {
	codesCmd.PersistentFlags().StringVar(&codesFlags.db, "db", "<dev_state>/records.db", "The sqlite database holding the codes.")
	codesCmd.PersistentFlags().StringVar(&codesFlags.url, "url", "", "A libsql url, takes precedence over --db.")

	codesGenerateCmd.Flags().IntVarP(&codesFlags.count, "count", "n", 1, "Number of codes to create.")
	codesGenerateCmd.Flags().IntVar(&codesFlags.uses, "uses", 1, "Uses per code, -1 for unlimited.")
	codesGenerateCmd.Flags().StringVar(&codesFlags.note, "note", "", "Free form note stored with the codes.")

	codesCmd.AddCommand(codesGenerateCmd, codesListCmd, codesRevokeCmd)
	rootCmd.AddCommand(codesCmd)
}

func openGate(ctx context.Context) (*activation.Gate, func()) {
	db, err := recordstore.Config{
		File:      codesFlags.db,
		Url:       codesFlags.url,
		AuthToken: configutil.EnvOr("ENROLL_DB_AUTH_TOKEN", ""),
	}.OpenDB()
	if err != nil {
		fail(err)
	}
	store, err := recordstore.New(ctx, db)
	if err != nil {
		fail(err)
	}
	return activation.NewGate(store, telemetry.NoopAPI{}), func() { store.Close() }
}

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manages activation codes.",
}

var codesGenerateCmd = &cobra.Command{
	Use:   "generate [-n <count>] [--uses <n>] [--note <text>]",
	Short: "Creates new activation codes.",
	Run: func(cmd *cobra.Command, args []string) {
		gate, closeFn := openGate(cmd.Context())
		defer closeFn()

		codes, err := gate.Generate(cmd.Context(), codesFlags.count, codesFlags.uses, codesFlags.note)
		if err != nil {
			fail(err)
		}
		printCodes(codes)
	},
}

var codesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every activation code.",
	Run: func(cmd *cobra.Command, args []string) {
		gate, closeFn := openGate(cmd.Context())
		defer closeFn()

		codes, err := gate.List(cmd.Context())
		if err != nil {
			fail(err)
		}
		printCodes(codes)
	},
}

var codesRevokeCmd = &cobra.Command{
	Use:   "revoke <code>",
	Short: "Deletes an activation code.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		gate, closeFn := openGate(cmd.Context())
		defer closeFn()

		err := gate.Revoke(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		fmt.Println("revoked", args[0])
	},
}

func printCodes(codes []activation.Code) {
	t := newTable()
	t.AppendHeader(table.Row{"Code", "Remaining", "Note", "Created"})
	for _, c := range codes {
		remaining := fmt.Sprint(c.Remaining)
		if c.Remaining == activation.Unlimited {
			remaining = "unlimited"
		}
		t.AppendRow(table.Row{c.Code, remaining, c.Note, c.CreatedAt.Local().Format(time.DateTime)})
	}
	t.Render()
}
