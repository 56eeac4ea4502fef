package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/chat"
	"github.com/pavelanni/studyhelper/internal/export"
	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/llm"
	"github.com/pavelanni/studyhelper/internal/llm/prompts"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/quiz"
	"github.com/pavelanni/studyhelper/internal/session"
	"github.com/pavelanni/studyhelper/internal/validate"
)

// tutorDocuments tells the LLM tutor what the student asked for whenever a
// document is analyzed.
type tutorDocuments struct {
	session.DocumentService
	tutor *llm.Tutor
}

func (d tutorDocuments) Upload(ctx context.Context, c model.UploadCandidate) (model.DocumentBundle, error) {
	b, err := d.DocumentService.Upload(ctx, c)
	if err == nil {
		d.tutor.SetUserPrompt(b.DocumentID, b.UserPrompt)
	}
	return b, err
}

// newSession wires a session controller to the backend, the chosen chat
// backend and the download directory.
func (e *env) newSession(ctx context.Context) *session.Controller {
	cfg := session.Config{
		Documents: e.client,
		Chat:      e.client,
		Exports:   e.client,
		Saver:     export.DirSaver{Dir: e.downloadDir()},
	}
	if tutor := e.tutor(); tutor != nil {
		cfg.Chat = tutor
		cfg.Documents = tutorDocuments{DocumentService: e.client, tutor: tutor}
	}

	greeting, cleared := appI18n.Greetings(appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(e.v.GetString("lang"))))
	cfg.ChatOptions = []chat.Option{chat.WithGreetings(greeting, cleared)}
	if e.db != nil {
		cfg.ExportOptions = []export.Option{export.WithLedger(e.db)}
	}
	return session.New(cfg)
}

func (e *env) downloadDir() string {
	if dir := e.v.GetString("download-dir"); dir != "" {
		return dir
	}
	return "."
}

// tutor returns the LLM tutor when --chat-backend=llm, else nil.
func (e *env) tutor() *llm.Tutor {
	if strings.ToLower(e.v.GetString("chat-backend")) != "llm" {
		return nil
	}
	if e.tutorCache == nil {
		e.tutorCache = llm.New(llm.Config{
			BaseURL: e.v.GetString("llm-url"),
			APIKey:  e.v.GetString("llm-key"),
			Model:   e.v.GetString("llm-model"),
			Style:   prompts.Style(strings.ToLower(e.v.GetString("tutor-style"))),
		}, e.client)
		slog.Info("using LLM tutor", "url", e.v.GetString("llm-url"), "model", e.v.GetString("llm-model"))
	}
	return e.tutorCache
}

// openDocument fetches a document and makes it the session's active one.
func (e *env) openDocument(ctx context.Context, sess *session.Controller, id string) (model.DocumentBundle, error) {
	bundle, err := e.client.GetDocument(ctx, id)
	if err != nil {
		return model.DocumentBundle{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if tutor := e.tutor(); tutor != nil {
		tutor.SetUserPrompt(bundle.DocumentID, bundle.UserPrompt)
	}
	if err := sess.Adopt(ctx, bundle); err != nil {
		return model.DocumentBundle{}, fmt.Errorf("open document %s: %w", id, err)
	}
	e.remember(ctx, model.DocumentSummary{DocumentID: bundle.DocumentID, UserPrompt: bundle.UserPrompt})
	return bundle, nil
}

func (e *env) remember(ctx context.Context, d model.DocumentSummary) {
	if e.db == nil {
		return
	}
	if err := e.db.RememberDocument(ctx, d); err != nil {
		slog.Warn("remember document", "document_id", d.DocumentID, "error", err)
	}
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze IMAGE",
		Short: "Upload an image of study material and print its analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("prompt", "p", "", "What you want to learn from the document")
	f.Bool("json", false, "Print the whole document bundle as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	cand := model.UploadCandidate{
		Data:        data,
		Filename:    filepath.Base(path),
		MediaType:   validate.DetectMediaType(data),
		Size:        int64(len(data)),
		Instruction: e.v.GetString("prompt"),
	}

	sess := e.newSession(ctx)
	if err := sess.Submit(ctx, cand); err != nil {
		if reason, ok := validate.ReasonOf(err); ok {
			return errors.New(reasonText(ctx, reason))
		}
		return fmt.Errorf("analyze %s: %s", cand.Filename, backend.Describe(err))
	}

	bundle, _ := sess.Bundle()
	e.remember(ctx, model.DocumentSummary{
		DocumentID: bundle.DocumentID,
		UserPrompt: bundle.UserPrompt,
		Filename:   cand.Filename,
	})

	out := cmd.OutOrStdout()
	if e.v.GetBool("json") {
		return printJSON(out, bundle)
	}
	printBundle(out, bundle)
	return nil
}

func reasonText(ctx context.Context, r validate.Reason) string {
	switch r {
	case validate.ReasonUnsupportedType:
		return appI18n.T(ctx, "ReasonUnsupportedType")
	case validate.ReasonTooLarge:
		return appI18n.T(ctx, "ReasonTooLarge")
	default:
		return appI18n.T(ctx, "ReasonMissingInstruction")
	}
}

func printBundle(w io.Writer, b model.DocumentBundle) {
	fmt.Fprintf(w, "Document: %s\n", b.DocumentID)
	fmt.Fprintf(w, "Prompt:   %s\n\n", b.UserPrompt)
	if b.Analysis.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", b.Analysis.Summary)
	}
	if len(b.Analysis.KeyPoints) > 0 {
		fmt.Fprintln(w, "Key points:")
		for _, p := range b.Analysis.KeyPoints {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		fmt.Fprintln(w)
	}
	if len(b.Analysis.Concepts) > 0 {
		fmt.Fprintf(w, "Concepts: %s\n\n", strings.Join(b.Analysis.Concepts, ", "))
	}
	fmt.Fprintf(w, "%d quiz questions, %d videos\n", len(b.QuizQuestions), len(b.YoutubeVideos))
	for _, v := range b.YoutubeVideos {
		fmt.Fprintf(w, "  > %s (%s)\n", v.Title, v.URL)
	}
}

func quizCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Take the quiz for a document",
		RunE:  runQuiz,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("document", "d", "", "Document ID (defaults to the last analyzed document)")
	f.String("sheet", "", "Write the attempt to an .xlsx workbook")
	return cmd
}

func runQuiz(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	id, err := e.documentID(cmd)
	if err != nil {
		return err
	}
	bundle, err := e.client.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("get document %s: %s", id, backend.Describe(err))
	}
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}

	engine := quiz.New(bundle.QuizQuestions)
	if err := takeQuiz(cmd.InOrStdin(), cmd.OutOrStdout(), engine); err != nil {
		return err
	}
	engine.Reveal()
	printReview(ctx, cmd.OutOrStdout(), engine)

	if path := e.v.GetString("sheet"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create workbook: %w", err)
		}
		defer f.Close()
		if err := quiz.WriteWorkbook(f, engine); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		slog.Info("quiz workbook written", "path", path)
	}
	return nil
}

// takeQuiz asks every question on w and reads answers from r. Multiple choice
// answers may be given as the option number.
func takeQuiz(r io.Reader, w io.Writer, e *quiz.Engine) error {
	in := bufio.NewScanner(r)
	for i := range e.Len() {
		q, err := e.Question(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d. %s\n", i+1, q.Prompt)
		switch q.Kind {
		case model.KindMultipleChoice:
			for n, opt := range q.Options {
				fmt.Fprintf(w, "   %d) %s\n", n+1, opt)
			}
		case model.KindFlashcard:
			fmt.Fprint(w, "   (press Enter to flip)")
		}
		fmt.Fprint(w, "\n> ")
		if !in.Scan() {
			break
		}
		answer := strings.TrimSpace(in.Text())

		if q.Kind == model.KindFlashcard {
			if err := e.Flip(i); err != nil {
				return err
			}
			fmt.Fprintf(w, "   %s\n", q.CorrectAnswer)
			continue
		}
		if answer == "" {
			continue
		}
		if q.Kind == model.KindMultipleChoice {
			var n int
			if _, err := fmt.Sscanf(answer, "%d", &n); err == nil && n >= 1 && n <= len(q.Options) {
				answer = q.Options[n-1]
			}
		}
		if err := e.SelectAnswer(i, answer); err != nil {
			return err
		}
	}
	return in.Err()
}

func printReview(ctx context.Context, w io.Writer, e *quiz.Engine) {
	fmt.Fprintln(w)
	for _, r := range e.Review() {
		mark := " "
		switch r.Verdict {
		case quiz.VerdictCorrect:
			mark = "+"
		case quiz.VerdictIncorrect:
			mark = "-"
		case quiz.VerdictSelfCheck:
			mark = "?"
		}
		fmt.Fprintf(w, "[%s] %d. %s\n", mark, r.Index+1, r.Question.Prompt)
		if r.Verdict == quiz.VerdictIncorrect {
			fmt.Fprintf(w, "      answer: %s\n", r.Question.CorrectAnswer)
		}
		if r.Question.Explanation != "" {
			fmt.Fprintf(w, "      %s\n", r.Question.Explanation)
		}
	}
	score := e.Score()
	fmt.Fprintln(w, appI18n.Tp(ctx, "QuestionsAnswered", e.AnsweredCount()))
	fmt.Fprintln(w, appI18n.Td(ctx, "ScoreLine", map[string]any{
		"Correct":    score.Correct,
		"Total":      score.Total,
		"Percentage": fmt.Sprintf("%.0f", score.Percentage),
	}))
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [MESSAGE]",
		Short: "Ask the tutor about a document, or start an interactive chat",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runChat,
	}
	addCommonFlags(cmd)
	addChatFlags(cmd)
	f := cmd.Flags()
	f.StringP("document", "d", "", "Document ID (defaults to the last analyzed document)")
	f.Bool("clear", false, "Clear the conversation before asking")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := e.documentID(cmd)
	if err != nil {
		return err
	}
	sess := e.newSession(ctx)
	if _, err := e.openDocument(ctx, sess, id); err != nil {
		return errors.New(backend.Describe(err))
	}
	conv := sess.Study().Chat

	if e.v.GetBool("clear") {
		if err := conv.Clear(ctx); err != nil {
			return fmt.Errorf("clear chat: %s", backend.Describe(err))
		}
	}

	if len(args) == 1 {
		printMessages(out, conv.Messages())
		return ask(ctx, out, conv, args[0])
	}

	printMessages(out, conv.Messages())
	for _, s := range conv.Suggestions() {
		fmt.Fprintf(out, "  ? %s\n", s)
	}
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "you> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			return nil
		}
		if err := ask(ctx, out, conv, text); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

// ask sends text and prints the tutor's answer, or why there is none.
func ask(ctx context.Context, w io.Writer, conv *chat.Manager, text string) error {
	if err := conv.Send(ctx, text); err != nil {
		return fmt.Errorf("tutor: %s", backend.Describe(err))
	}
	msgs := conv.Messages()
	printMessages(w, msgs[len(msgs)-1:])
	return nil
}

func printMessages(w io.Writer, msgs []model.ChatMessage) {
	for _, m := range msgs {
		who := "you"
		if m.Role == model.RoleAssistant {
			who = "tutor"
		}
		suffix := ""
		if m.Delivery == model.DeliveryUnconfirmed {
			suffix = " (not delivered)"
		}
		fmt.Fprintf(w, "[%s] %s%s: %s\n", m.Timestamp.Local().Format("15:04"), who, suffix, m.Content)
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [KIND...]",
		Short: "Download study material PDFs for a document",
		Long: "Download study material PDFs. KIND is one of " + kindList() +
			"; without arguments every available kind is downloaded.",
		RunE: runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("document", "d", "", "Document ID (defaults to the last analyzed document)")
	f.StringP("download-dir", "o", ".", "Directory to save PDFs in")
	f.Bool("list", false, "Only list the export options")
	return cmd
}

func kindList() string {
	names := make([]string, len(model.ExportKinds))
	for i, k := range model.ExportKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var kinds []model.ExportKind
	for _, a := range args {
		k, ok := model.ParseExportKind(strings.ToLower(a))
		if !ok {
			return fmt.Errorf("unknown export kind %q (want %s)", a, kindList())
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}

	id, err := e.documentID(cmd)
	if err != nil {
		return err
	}
	var opts []export.Option
	if e.db != nil {
		opts = append(opts, export.WithLedger(e.db))
	}
	coord := export.NewCoordinator(id, e.client, export.DirSaver{Dir: e.downloadDir()}, opts...)

	options, err := coord.ListOptions(ctx)
	if err != nil {
		return fmt.Errorf("list export options: %s", backend.Describe(err))
	}
	if e.v.GetBool("list") {
		for _, k := range model.ExportKinds {
			opt, ok := options[k]
			d := export.Describe(k)
			state := "unavailable"
			if ok && opt.Available {
				state = "available"
			}
			fmt.Fprintf(out, "%-9s %-22s %s  %s\n", k, d.Title, state, strings.Join(opt.Includes, ", "))
		}
		return nil
	}
	if len(kinds) == 0 {
		for _, k := range model.ExportKinds {
			if opt, ok := options[k]; ok && opt.Available {
				kinds = append(kinds, k)
			}
		}
	}

	results, err := exportKinds(ctx, coord, kinds)
	for _, res := range results {
		if res.Path != "" {
			fmt.Fprintf(out, "%-9s %s (%d bytes)\n", res.Kind, res.Path, res.Bytes)
		}
	}
	return err
}

// exportKinds downloads every kind concurrently. Each kind runs to completion
// on its own; the failures are joined.
func exportKinds(ctx context.Context, coord *export.Coordinator, kinds []model.ExportKind) ([]export.Result, error) {
	results := make([]export.Result, len(kinds))
	errs := make([]error, len(kinds))
	var g errgroup.Group
	for i, k := range kinds {
		g.Go(func() error {
			res, err := coord.ExportAs(ctx, k)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %s", k, backend.Describe(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
