// govctl: офлайн-утилита оператора для работы с документами политики.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xela07ax/netops-governor/internal/policy"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "govctl:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "govctl",
		Short:         "Validate, hash and diff governor policy documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a policy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version=%s hash=%s\n", loaded.Document.Version, loaded.Hash)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "hash <file>",
		Short: "Print the content hash the governor records for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loaded.Hash)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show the normalized difference between two policy documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			next, err := policy.LoadFile(args[1])
			if err != nil {
				return err
			}
			d := policy.Diff(prev.Document, next.Document)
			if d == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no changes")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), d)
			return nil
		},
	})

	return root
}
