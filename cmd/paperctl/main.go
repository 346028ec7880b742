package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terminal-archives/paperledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	authToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "paperledger CLI",
	Long: `paperctl is the command-line interface for a paperledger server.

It appends tamper-evident metadata entries, reads and verifies
per-resource hash chains, and manages the exam paper archive.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.paperledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.paperledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "paperledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "admin bearer token (or 'token' in the config file)")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(papersCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client carrying the configured token, if any.
func newClient(opts ...client.Option) (*client.Client, error) {
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	return client.New(serverURL, opts...)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendMeta  []string
	appendJSON  string
	appendBy    string
	appendFiles []string
)

var appendCmd = &cobra.Command{
	Use:   "append <resource-id>",
	Short: "Append a metadata entry to a resource's chain",
	Long: `Append commits one entry to the resource's hash chain.

Metadata is given either as repeated key=value pairs or as a raw JSON
object. Attachments are stored server-side and their SHA-256 digests are
folded into the entry so the files are covered by the chain:

  paperctl append paper:2025:physics --meta status=reviewed --by alice
  paperctl append paper:2025:physics --json '{"grade":"A","pages":12}'
  paperctl append paper:2025:physics --meta status=final --file marks.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().StringArrayVar(&appendMeta, "meta", nil, "Metadata field as key=value (repeatable)")
	appendCmd.Flags().StringVar(&appendJSON, "json", "", "Metadata as a raw JSON object (overrides --meta)")
	appendCmd.Flags().StringVar(&appendBy, "by", "", "Author recorded in the entry")
	appendCmd.Flags().StringArrayVar(&appendFiles, "file", nil, "Attachment file path (repeatable)")
}

func runAppend(cmd *cobra.Command, args []string) error {
	resourceID := args[0]
	ctx := context.Background()

	metadata, err := buildMetadata()
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	req := client.AppendRequest{
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedBy:  appendBy,
	}

	var entry *client.Entry
	if len(appendFiles) > 0 {
		files := make(map[string]string, len(appendFiles))
		for i, path := range appendFiles {
			files[fmt.Sprintf("file%d", i+1)] = path
		}
		entry, err = c.AppendWithFiles(ctx, req, files)
	} else {
		entry, err = c.AppendMetadata(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	fmt.Printf("✓ Entry appended\n\n")
	fmt.Printf("  Resource: %s\n", entry.ResourceID)
	fmt.Printf("  Hash:     %s\n", entry.EntryHash)
	fmt.Printf("  Prev:     %s\n", orGenesis(entry.PrevHash))
	fmt.Printf("  At:       %s\n", entry.CreatedAt.Format(time.RFC3339))
	if entry.Signature != "" {
		fmt.Printf("  Signed:   yes\n")
	}
	return nil
}

// buildMetadata assembles the metadata object from --json or --meta flags.
func buildMetadata() (map[string]any, error) {
	if appendJSON != "" {
		var m map[string]any
		dec := json.NewDecoder(strings.NewReader(appendJSON))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("invalid --json value: %w", err)
		}
		return m, nil
	}

	m := make(map[string]any, len(appendMeta))
	for _, kv := range appendMeta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", kv)
		}
		m[k] = v
	}
	return m, nil
}

func orGenesis(prevHash string) string {
	if prevHash == "" {
		return "(genesis)"
	}
	return prevHash
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainFormat string

var chainCmd = &cobra.Command{
	Use:   "chain <resource-id>",
	Short: "Print a resource's ledger, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

func init() {
	chainCmd.Flags().StringVar(&chainFormat, "format", "text", "Output format: text or json")
}

func runChain(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	entries, err := c.Chain(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	if chainFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCREATED\tBY\tHASH\tSIGNED")
	for i, e := range entries {
		signed := ""
		if e.Signature != "" {
			signed = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i+1, e.CreatedAt.Format(time.RFC3339), e.CreatedBy, shortHash(e.EntryHash), signed)
	}
	return w.Flush()
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <resource-id>",
	Short: "Re-verify every hash and signature in a resource's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.VerifyChain(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if result.Valid {
			fmt.Println("✓ Chain verified — no tampering detected")
			return nil
		}

		fmt.Printf("✗ Chain INVALID\n\n")
		fmt.Printf("  Broken at: %s\n", result.BrokenAt)
		fmt.Printf("  Reason:    %s\n", result.Reason)
		os.Exit(1)
		return nil
	},
}

// ── entry ────────────────────────────────────────────────────────────────────

var entryCmd = &cobra.Command{
	Use:   "entry <entry-hash>",
	Short: "Look up a single ledger entry by its hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		entry, err := c.EntryByHash(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("entry: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

// ── papers ───────────────────────────────────────────────────────────────────

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "Manage the exam paper archive",
}

var papersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived papers with their tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		papers, err := c.Papers(context.Background())
		if err != nil {
			return fmt.Errorf("list papers: %w", err)
		}
		if len(papers) == 0 {
			fmt.Println("No papers archived.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLASS\tSUBJECT\tSEM\tYEAR\tTYPE\tMEDIUM\tUPLOADER")
		for _, p := range papers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Class, p.Subject, p.Semester, p.Year, p.ExamType, p.Medium, p.Uploader)
		}
		return w.Flush()
	},
}

var (
	upAdmin    string
	upClass    string
	upSubject  string
	upSemester string
	upYear     string
	upExamType string
	upMedium   string
)

var papersUploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a tagged exam paper PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.UploadPaper(context.Background(), client.PaperUpload{
			Path:      args[0],
			AdminName: upAdmin,
			Class:     upClass,
			Subject:   upSubject,
			Semester:  upSemester,
			Year:      upYear,
			ExamType:  upExamType,
			Medium:    upMedium,
		})
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}

		fmt.Printf("✓ Paper archived\n\n")
		fmt.Printf("  Stored as: %s\n", result.StoredAs)
		fmt.Printf("  URL:       %s\n", result.URL)
		return nil
	},
}

var papersGetOutput string

var papersGetCmd = &cobra.Command{
	Use:   "get <stored-name>",
	Short: "Download an archived file by its stored name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		dest := papersGetOutput
		if dest == "" {
			dest = filepath.Base(args[0])
		}
		if err := c.DownloadPaper(context.Background(), args[0], dest); err != nil {
			return fmt.Errorf("download: %w", err)
		}
		fmt.Printf("✓ Saved to %s\n", dest)
		return nil
	},
}

func init() {
	papersUploadCmd.Flags().StringVar(&upAdmin, "by", "", "Uploader name")
	papersUploadCmd.Flags().StringVar(&upClass, "class", "", "Class (e.g. BSC)")
	papersUploadCmd.Flags().StringVar(&upSubject, "subject", "", "Subject (e.g. Physics)")
	papersUploadCmd.Flags().StringVar(&upSemester, "semester", "", "Semester number")
	papersUploadCmd.Flags().StringVar(&upYear, "year", "", "Exam year")
	papersUploadCmd.Flags().StringVar(&upExamType, "type", "", "Exam type (e.g. Final)")
	papersUploadCmd.Flags().StringVar(&upMedium, "medium", "", "Medium of instruction")

	_ = papersUploadCmd.MarkFlagRequired("by")
	_ = papersUploadCmd.MarkFlagRequired("class")
	_ = papersUploadCmd.MarkFlagRequired("subject")
	_ = papersUploadCmd.MarkFlagRequired("semester")
	_ = papersUploadCmd.MarkFlagRequired("year")
	_ = papersUploadCmd.MarkFlagRequired("type")
	_ = papersUploadCmd.MarkFlagRequired("medium")

	papersGetCmd.Flags().StringVar(&papersGetOutput, "output", "", "Destination path (default: the stored name)")

	papersCmd.AddCommand(papersListCmd)
	papersCmd.AddCommand(papersUploadCmd)
	papersCmd.AddCommand(papersGetCmd)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Exchange the admin secret for a bearer token",
	Long: `Login prompts for the admin secret and prints a bearer token.

Store it in ~/.paperledger/config.yaml as 'token: <value>' or pass it with
--token on later invocations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("Secret: ")
		reader := bufio.NewReader(os.Stdin)
		secret, _ := reader.ReadString('\n')
		secret = strings.TrimSpace(secret)

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		token, err := c.Login(context.Background(), args[0], secret)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		fmt.Printf("\n✓ Logged in\n\n%s\n", token)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paperctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("paperctl %s (paperledger)\n", version)
	},
}
