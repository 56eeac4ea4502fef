package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/handler"
)

func documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage analyzed documents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List documents known to the backend",
		Args:  cobra.NoArgs,
		RunE:  runDocumentsList,
	}
	addCommonFlags(list)
	list.Flags().Int("page", 1, "Page number")
	list.Flags().Int("limit", 10, "Documents per page")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print a document's analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocumentsGet,
	}
	addCommonFlags(get)
	get.Flags().Bool("json", false, "Print the whole document bundle as JSON")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a document and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocumentsDelete,
	}
	addCommonFlags(del)

	regen := &cobra.Command{
		Use:   "regenerate ID",
		Short: "Ask the backend for a new set of quiz questions",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocumentsRegenerate,
	}
	addCommonFlags(regen)

	recent := &cobra.Command{
		Use:   "recent",
		Short: "List documents opened on this machine",
		Args:  cobra.NoArgs,
		RunE:  runDocumentsRecent,
	}
	addCommonFlags(recent)
	recent.Flags().Int("limit", 20, "Maximum documents to show")

	cmd.AddCommand(list, get, del, regen, recent)
	return cmd
}

func runDocumentsList(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	page, err := e.client.ListDocuments(cmd.Context(), e.v.GetInt("page"), e.v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("list documents: %s", backend.Describe(err))
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tFILE\tPROMPT")
	for _, d := range page.Documents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.DocumentID, d.CreatedAt.Local().Format("2006-01-02 15:04"), d.Filename, d.UserPrompt)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d documents in total\n", page.Page, page.Total)
	return nil
}

func runDocumentsGet(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	bundle, err := e.client.GetDocument(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get document: %s", backend.Describe(err))
	}
	if e.v.GetBool("json") {
		return printJSON(cmd.OutOrStdout(), bundle)
	}
	printBundle(cmd.OutOrStdout(), bundle)
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	if err := e.client.DeleteDocument(ctx, args[0]); err != nil {
		return fmt.Errorf("delete document: %s", backend.Describe(err))
	}
	if e.db != nil {
		if err := e.db.ForgetDocument(ctx, args[0]); err != nil {
			return fmt.Errorf("forget document: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runDocumentsRegenerate(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	questions, err := e.client.RegenerateQuiz(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("regenerate quiz: %s", backend.Describe(err))
	}
	for i, q := range questions {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. [%s] %s\n", i+1, q.Kind, q.Prompt)
	}
	return nil
}

func runDocumentsRecent(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if e.db == nil {
		return errors.New("recent documents need --db")
	}

	docs, err := e.db.RecentDocuments(cmd.Context(), e.v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("recent documents: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPENED\tFILE\tPROMPT")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.DocumentID, d.CreatedAt.Local().Format("2006-01-02 15:04"), d.Filename, d.UserPrompt)
	}
	return tw.Flush()
}

func downloadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "List exported PDFs saved on this machine",
		Args:  cobra.NoArgs,
		RunE:  runDownloads,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("document", "d", "", "Only show downloads of this document")
	f.Int("limit", 50, "Maximum downloads to show")
	return cmd
}

func runDownloads(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if e.db == nil {
		return errors.New("downloads need --db")
	}

	list, err := e.db.ListDownloads(cmd.Context(), e.v.GetString("document"), e.v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("list downloads: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SAVED\tDOCUMENT\tKIND\tBYTES\tPATH")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.SavedAt.Local().Format("2006-01-02 15:04"), d.DocumentID, d.Kind, d.Bytes, d.Path)
	}
	return tw.Flush()
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print a bcrypt hash for --access-password-hash",
		Long:  "Print a bcrypt hash for --access-password-hash. Without an argument the password is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := handler.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
