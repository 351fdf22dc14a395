package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wwnotes-sync/internal/bootstrap"
	"wwnotes-sync/internal/config"
	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/service"

	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wwnotes: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wwnotes",
		Short: "World Wide Notes catalog CLI",
		Long: `wwnotes runs one-shot operations against the shared document catalog: listing and
searching documents, syncing local slots with the remote store, and registering uploads.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (defaults to $CONFIG_FILE)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	cmd.AddCommand(
		newListCmd(),
		newSearchCmd(),
		newSyncCmd(),
		newRegisterCmd(),
	)
	return cmd
}

// withApp loads configuration, refreshes the catalog once and hands the node
// to fn. Background publishing is not started; commands publish explicitly.
func withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	if configFile != "" {
		os.Setenv("CONFIG_FILE", configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	defer app.Stop()

	app.Registry.Refresh(ctx)
	return fn(app)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every document, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				return printDocuments(cmd.OutOrStdout(), app.Registry.GetAll(), jsonOutput)
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var docType, year string
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search titles, descriptions, subjects and tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := service.Filters{DocType: docType, Year: service.ParseYear(year)}
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				return printDocuments(cmd.OutOrStdout(), app.Registry.Search(text, filters), jsonOutput)
			})
		},
	}
	cmd.Flags().StringVarP(&docType, "type", "t", "", "Only documents of this type")
	cmd.Flags().StringVarP(&year, "year", "y", "", "Only documents from this year")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var push bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Merge remote and local copies, publishing when the remote is behind",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(app *bootstrap.App) error {
				result := app.Registry.Refresh(ctx)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d documents (changed: %t)\n", result.Count, result.Changed)
				if result.RemoteErr != nil {
					fmt.Fprintf(out, "remote unavailable: %v\n", result.RemoteErr)
					return nil
				}
				if result.RemoteBehind || push {
					if err := app.Registry.Publish(ctx); err != nil {
						return fmt.Errorf("failed to publish snapshot: %w", err)
					}
					fmt.Fprintln(out, "remote snapshot updated")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&push, "push", false, "Publish even when the remote looks current")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var info domain.UploadResult
	var meta domain.UploadMetadata
	var tags string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a file that was already uploaded to the media provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if tags != "" {
				for _, t := range strings.Split(tags, ",") {
					meta.Tags = append(meta.Tags, strings.TrimSpace(t))
				}
			}
			return withApp(ctx, func(app *bootstrap.App) error {
				doc, err := app.Uploads.Register(ctx, &domain.UploadRequest{Info: &info, Metadata: meta})
				if err != nil {
					return err
				}
				if err := app.Registry.Publish(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "saved locally; remote publish failed: %v\n", err)
				}
				return printDocuments(cmd.OutOrStdout(), []domain.Document{doc}, jsonOutput)
			})
		},
	}
	cmd.Flags().StringVar(&info.SecureURL, "url", "", "Delivery URL of the uploaded file")
	cmd.Flags().StringVar(&info.PublicID, "public-id", "", "Provider public ID")
	cmd.Flags().StringVar(&info.OriginalFilename, "file-name", "", "Original file name")
	cmd.Flags().StringVar(&info.Format, "format", "", "File format, e.g. pdf")
	cmd.Flags().Int64Var(&info.Bytes, "bytes", 0, "File size in bytes")
	cmd.Flags().StringVar(&meta.Title, "title", "", "Title (derived from the file name when empty)")
	cmd.Flags().StringVar(&meta.Description, "description", "", "Description")
	cmd.Flags().StringVar(&meta.Subject, "subject", "", "Subject (guessed when empty)")
	cmd.Flags().StringVar(&meta.DocType, "type", "", "Document type")
	cmd.Flags().IntVar(&meta.Year, "year", 0, "Academic year")
	cmd.Flags().StringVar(&meta.Institution, "institution", "", "Institution")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma separated tags")
	cmd.MarkFlagRequired("url")
	return cmd
}
