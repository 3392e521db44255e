package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/OlaProeis/ironPad/core/git"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// =============================================================================
// Output Format Type
// =============================================================================

// GitOutputFormat represents the output format for git commands.
type GitOutputFormat string

const (
	// GitOutputTable outputs as formatted table.
	GitOutputTable GitOutputFormat = "table"
	// GitOutputJSON outputs as JSON.
	GitOutputJSON GitOutputFormat = "json"
	// GitOutputPlain outputs as plain text.
	GitOutputPlain GitOutputFormat = "plain"
)

// =============================================================================
// Git Command Flags
// =============================================================================

var (
	gitFormat  string
	gitLimit   int
	gitMessage string
)

// =============================================================================
// Git Commands
// =============================================================================

var gitCmd = &cobra.Command{
	Use:   "git",
	Short: "Version history of the document root",
	Long:  `Inspect and update the git repository that versions the document root.`,
}

var gitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show working tree state",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitStatus),
}

var gitLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitLog),
}

var gitDiffCmd = &cobra.Command{
	Use:   "diff [commit]",
	Short: "Show changes",
	Long: `Show changes.
Without arguments, compares the working tree with HEAD.
With a commit, compares that commit with its first parent.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withRepo(runGitDiff),
}

var gitCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit every change in the document root",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitCommit),
}

var gitConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List files with unresolved merge conflicts",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitConflicts),
}

var gitRemoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Show the configured remote and sync state",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitRemote),
}

var gitPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the current branch to the configured remote",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitPush),
}

var gitFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch from the configured remote",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitFetch),
}

var gitInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the repository if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  withRepo(runGitInit),
}

// =============================================================================
// Init
// =============================================================================

func init() {
	rootCmd.AddCommand(gitCmd)
	gitCmd.AddCommand(gitStatusCmd, gitLogCmd, gitDiffCmd, gitCommitCmd,
		gitConflictsCmd, gitRemoteCmd, gitPushCmd, gitFetchCmd, gitInitCmd)

	gitCmd.PersistentFlags().StringVarP(&gitFormat, "format", "f", "table", "Output format (table, json, plain)")
	gitLogCmd.Flags().IntVarP(&gitLimit, "limit", "n", 0, "Maximum number of commits to show (default git.log_limit)")
	gitCommitCmd.Flags().StringVarP(&gitMessage, "message", "m", "", "Commit message (default \"Auto-save\")")
}

type gitRunFunc func(cmd *cobra.Command, repo *git.Repository, args []string) error

// withRepo opens the repository for the configured document root.
func withRepo(run gitRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		repo, err := git.New(git.Config{
			Root:            env.dataDir,
			RemoteName:      env.config.Git.Remote,
			AuthorName:      env.config.Git.AuthorName,
			AuthorEmail:     env.config.Git.AuthorEmail,
			DefaultBranch:   env.config.Git.DefaultBranch,
			LogLimit:        env.config.Git.LogLimit,
			KnownHostsFiles: env.config.Git.KnownHosts,
			Logger:          env.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		defer repo.Close()

		return run(cmd, repo, args)
	}
}

// =============================================================================
// Status
// =============================================================================

func runGitStatus(cmd *cobra.Command, repo *git.Repository, args []string) error {
	status, err := repo.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return formatStatusOutput(cmd.OutOrStdout(), status, parseGitFormat(gitFormat))
}

func formatStatusOutput(w io.Writer, status git.RepoStatus, format GitOutputFormat) error {
	switch format {
	case GitOutputJSON:
		return writeJSON(w, status)
	case GitOutputPlain:
		for _, f := range status.Files {
			fmt.Fprintf(w, "%s %s\n", statusCode(f.Status), f.Path)
		}
		return nil
	}

	if !status.IsRepo {
		fmt.Fprintln(w, "Not a git repository.")
		return nil
	}

	fmt.Fprintf(w, "Branch: %s\n", status.Branch)
	fmt.Fprintf(w, "State:  %s\n", status.State)
	if c := status.LastCommit; c != nil {
		fmt.Fprintf(w, "Last:   %s %s (%s)\n", c.ID, c.Message, humanize.Time(c.Timestamp))
	}
	if len(status.Files) == 0 {
		fmt.Fprintln(w, "\nNothing to commit.")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILE")
	fmt.Fprintln(tw, "------\t----")
	for _, f := range status.Files {
		fmt.Fprintf(tw, "%s\t%s\n", f.Status, f.Path)
	}
	return tw.Flush()
}

func statusCode(status string) string {
	switch status {
	case git.FileNew:
		return "A"
	case git.FileModified:
		return "M"
	case git.FileDeleted:
		return "D"
	case git.FileRenamed:
		return "R"
	case git.FileConflicted:
		return "U"
	default:
		return "?"
	}
}

// =============================================================================
// Log
// =============================================================================

func runGitLog(cmd *cobra.Command, repo *git.Repository, args []string) error {
	commits, err := repo.Log(gitLimit)
	if err != nil {
		return fmt.Errorf("failed to get log: %w", err)
	}
	return formatLogOutput(cmd.OutOrStdout(), commits, parseGitFormat(gitFormat))
}

func formatLogOutput(w io.Writer, commits []git.CommitDetail, format GitOutputFormat) error {
	if len(commits) == 0 {
		if format != GitOutputJSON {
			fmt.Fprintln(w, "No commits found.")
		} else {
			fmt.Fprintln(w, "[]")
		}
		return nil
	}

	switch format {
	case GitOutputJSON:
		return writeJSON(w, commits)
	case GitOutputPlain:
		for _, c := range commits {
			fmt.Fprintf(w, "commit %s\n", c.ID)
			fmt.Fprintf(w, "Author: %s\n", c.Author)
			fmt.Fprintf(w, "Date:   %s\n\n", c.Timestamp.Format(time.RFC1123))
			fmt.Fprintf(w, "    %s\n\n", c.Message)
		}
		return nil
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMIT\tWHEN\tFILES\tMESSAGE")
		fmt.Fprintln(tw, "------\t----\t-----\t-------")
		for _, c := range commits {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
				c.ShortID, humanize.Time(c.Timestamp), c.FilesChanged, truncateString(c.Message, 60))
		}
		return tw.Flush()
	}
}

// =============================================================================
// Diff
// =============================================================================

func runGitDiff(cmd *cobra.Command, repo *git.Repository, args []string) error {
	var (
		diff git.DiffInfo
		err  error
	)
	if len(args) == 1 {
		diff, err = repo.CommitDiff(args[0])
	} else {
		diff, err = repo.WorkingDiff()
	}
	if err != nil {
		return fmt.Errorf("failed to get diff: %w", err)
	}
	return formatDiffOutput(cmd.OutOrStdout(), diff, parseGitFormat(gitFormat))
}

func formatDiffOutput(w io.Writer, diff git.DiffInfo, format GitOutputFormat) error {
	if format == GitOutputJSON {
		return writeJSON(w, diff)
	}
	if len(diff.Files) == 0 {
		fmt.Fprintln(w, "No changes found.")
		return nil
	}

	if format == GitOutputPlain {
		for _, f := range diff.Files {
			fmt.Fprintf(w, "%s %s\n", f.Status, f.Path)
			if f.Binary {
				fmt.Fprintln(w, "  (binary)")
				continue
			}
			for _, h := range f.Hunks {
				fmt.Fprintf(w, "%s\n", h.Header)
				for _, l := range h.Lines {
					fmt.Fprintf(w, "%s%s\n", l.Origin, l.Content)
				}
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILE\tADDED\tDELETED")
	fmt.Fprintln(tw, "------\t----\t-----\t-------")
	for _, f := range diff.Files {
		fmt.Fprintf(tw, "%s\t%s\t+%d\t-%d\n", f.Status, f.Path, f.Additions, f.Deletions)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s changed, %d insertions(+), %d deletions(-)\n",
		pluralFiles(diff.Stats.FilesChanged), diff.Stats.Insertions, diff.Stats.Deletions)
	return nil
}

func pluralFiles(n int) string {
	if n == 1 {
		return "1 file"
	}
	return humanize.Comma(int64(n)) + " files"
}

// =============================================================================
// Commit / Init
// =============================================================================

func runGitCommit(cmd *cobra.Command, repo *git.Repository, args []string) error {
	result, err := repo.CommitAll(gitMessage)
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	w := cmd.OutOrStdout()
	if parseGitFormat(gitFormat) == GitOutputJSON {
		return writeJSON(w, struct {
			Outcome string          `json:"outcome"`
			Commit  *git.CommitInfo `json:"commit,omitempty"`
		}{result.Outcome.String(), result.Commit})
	}
	if result.Outcome == git.OutcomeNoChanges {
		fmt.Fprintln(w, "No changes to commit.")
		return nil
	}
	fmt.Fprintf(w, "[%s] %s\n", result.Commit.ID, result.Commit.Message)
	return nil
}

func runGitInit(cmd *cobra.Command, repo *git.Repository, args []string) error {
	created, err := repo.InitIfAbsent()
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized repository in %s\n", repo.Root())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Repository already exists in %s\n", repo.Root())
	}
	return nil
}

// =============================================================================
// Conflicts
// =============================================================================

func runGitConflicts(cmd *cobra.Command, repo *git.Repository, args []string) error {
	paths, err := repo.CheckConflicts()
	if err != nil {
		return fmt.Errorf("failed to check conflicts: %w", err)
	}

	w := cmd.OutOrStdout()
	if parseGitFormat(gitFormat) == GitOutputJSON {
		return writeJSON(w, paths)
	}
	if len(paths) == 0 {
		fmt.Fprintln(w, "No conflicts.")
		return nil
	}
	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
	return nil
}

// =============================================================================
// Remote
// =============================================================================

func runGitRemote(cmd *cobra.Command, repo *git.Repository, args []string) error {
	info, err := repo.RemoteInfo()
	if err != nil {
		return fmt.Errorf("failed to read remote: %w", err)
	}
	return formatRemoteOutput(cmd.OutOrStdout(), info, parseGitFormat(gitFormat))
}

func formatRemoteOutput(w io.Writer, info *git.RemoteInfo, format GitOutputFormat) error {
	if format == GitOutputJSON {
		return writeJSON(w, info)
	}
	if info == nil {
		fmt.Fprintln(w, "No remote configured.")
		return nil
	}

	fmt.Fprintf(w, "%s\t%s\n", info.Name, info.URL)
	if !info.HasUpstream {
		fmt.Fprintln(w, "No upstream tracking branch.")
		return nil
	}
	fmt.Fprintf(w, "ahead %d, behind %d\n", info.Ahead, info.Behind)
	return nil
}

func runGitPush(cmd *cobra.Command, repo *git.Repository, args []string) error {
	if err := repo.Push(cmd.Context()); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pushed to %s.\n", repo.RemoteName())
	return nil
}

func runGitFetch(cmd *cobra.Command, repo *git.Repository, args []string) error {
	if err := repo.Fetch(cmd.Context()); err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched from %s.\n", repo.RemoteName())
	return nil
}

// =============================================================================
// Utility Functions
// =============================================================================

func parseGitFormat(s string) GitOutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return GitOutputJSON
	case "plain":
		return GitOutputPlain
	default:
		return GitOutputTable
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
