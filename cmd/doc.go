package cmd

import (
	"fmt"
	"io"

	"github.com/OlaProeis/ironPad/core/filesystem"
	"github.com/spf13/cobra"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and write documents under the document root",
	Long: `Read and write documents under the document root.

Writes are atomic: readers see either the previous or the new content. A
running server notices them as external edits.`,
}

var docWriteCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Replace a document with standard input",
	Args:  cobra.ExactArgs(1),
	RunE:  withStore(runDocWrite),
}

var docCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a document",
	Args:  cobra.ExactArgs(1),
	RunE:  withStore(runDocCat),
}

var docMoveCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Rename a document",
	Args:  cobra.ExactArgs(2),
	RunE:  withStore(runDocMove),
}

func init() {
	rootCmd.AddCommand(docCmd)
	docCmd.AddCommand(docWriteCmd, docCatCmd, docMoveCmd)
}

type docRunFunc func(cmd *cobra.Command, store *filesystem.Store, args []string) error

func withStore(run docRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		store, err := filesystem.NewStore(filesystem.StoreConfig{
			Root:   env.dataDir,
			Logger: env.logger,
		})
		if err != nil {
			return err
		}
		return run(cmd, store, args)
	}
}

func runDocWrite(cmd *cobra.Command, store *filesystem.Store, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return store.AtomicWrite(args[0], data)
}

func runDocCat(cmd *cobra.Command, store *filesystem.Store, args []string) error {
	data, err := store.Read(args[0])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runDocMove(cmd *cobra.Command, store *filesystem.Store, args []string) error {
	exists, err := store.Exists(args[1])
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("destination exists: %s", args[1])
	}
	return store.Rename(args[0], args[1])
}
