package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provzone/docchat/internal/answer"
	"github.com/provzone/docchat/internal/ingest"
	"github.com/provzone/docchat/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a local file into the document corpus",
	Long: `Ingest a local file into the document corpus.

The file is staged, parsed, chunked, and embedded. Re-ingesting a file with
the same name fully replaces its previous chunks.

Examples:
  docchat ingest ./handbook.pdf
  docchat ingest ./notes.txt --name "team notes.txt"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s", args[0])
		resp, err := client.upload(cmd.Context(), "/documents", args[0], name)
		if err != nil {
			return err
		}

		var res ingest.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Ingested %s: %d chunks, %d embedded (generation %s)",
			res.FileName, res.Chunks, res.Embedded, res.Generation)
		return nil
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <name>",
	Short: "Re-run the pipeline for an already-staged document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/reprocess", nil)
		if err != nil {
			return err
		}

		var res ingest.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Reprocessed %s: %d chunks, %d embedded", res.FileName, res.Chunks, res.Embedded)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Removed %s", args[0])
		return nil
	},
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents?limit=100")
		if err != nil {
			return err
		}

		var docs []storage.DocumentInfo
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("no documents ingested")
			return nil
		}
		for _, d := range docs {
			embedded := ""
			if d.Embedded < d.Chunks {
				embedded = colorize(colorYellow, fmt.Sprintf(" (%d/%d embedded)", d.Embedded, d.Chunks))
			}
			fmt.Printf("%s  %d chunks%s  %s\n", d.FileName, d.Chunks, embedded, d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question grounded in the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ask", map[string]string{"question": question})
		if err != nil {
			return err
		}

		var ans answer.Answer
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		fmt.Println(ans.Answer)
		if len(ans.Sources) > 0 {
			fmt.Println()
			fmt.Println(colorize(colorBold, "Sources:"))
			for _, s := range ans.Sources {
				fmt.Printf("  - %s\n", s)
			}
		}
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill missing embeddings across all documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents/backfill-embeddings", nil)
		if err != nil {
			return err
		}

		var res map[string]int
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Filled %d embeddings", res["filled"])
		return nil
	},
}

// --- admin ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage the operator allowlist",
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowlisted admins",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/admins")
		if err != nil {
			return err
		}

		var list []storage.Admin
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		for _, a := range list {
			fmt.Printf("%s  added %s\n", a.Email, a.AddedAt.Format("2006-01-02"))
		}
		return nil
	},
}

var adminAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add an admin to the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admins", map[string]string{"email": args[0]})
		if err != nil {
			return err
		}

		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Added %s", args[0])
		return nil
	},
}

var adminRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an admin from the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/admins/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Removed %s", args[0])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("name", "", "logical document name (defaults to the file's base name)")

	adminCmd.AddCommand(adminListCmd)
	adminCmd.AddCommand(adminAddCmd)
	adminCmd.AddCommand(adminRemoveCmd)
}
