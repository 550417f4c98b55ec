package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/porkchop/internal/catalog"
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/hochfrequenz/porkchop/internal/generate"
	"github.com/hochfrequenz/porkchop/internal/schedule"
	"github.com/hochfrequenz/porkchop/internal/store"
	"github.com/hochfrequenz/porkchop/tui"
	"github.com/hochfrequenz/porkchop/web/api"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	submitName    string
	submitPrompts []string
	submitWait    bool
	logsPage      int
	logsLimit     int
	logsSearch    string
	reportRaw     bool
	watchInterval time.Duration
)

func init() {
	submitCmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Submit files for validation",
		Long: `Submit files for validation against one or more prompts.
Arguments may be glob patterns. Prompts are given as category::name, e.g.
--prompt pipeline_validity::all --prompt artifacts_validity::secrets`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSubmit,
	}
	submitCmd.Flags().StringVar(&submitName, "name", "", "batch name (default batch-<timestamp>)")
	submitCmd.Flags().StringSliceVarP(&submitPrompts, "prompt", "p", nil, "prompt key, repeatable or comma separated")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the batch to finish")
	submitCmd.MarkFlagRequired("prompt")
	rootCmd.AddCommand(submitCmd)

	statusCmd := &cobra.Command{
		Use:   "status [BATCH_ID]",
		Short: "Show one batch, or all active batches",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "List past batches",
		RunE:  runLogs,
	}
	logsCmd.Flags().IntVar(&logsPage, "page", 1, "page number")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 20, "batches per page")
	logsCmd.Flags().StringVar(&logsSearch, "search", "", "filter by name substring")
	rootCmd.AddCommand(logsCmd)

	reportCmd := &cobra.Command{
		Use:   "report BATCH_ID",
		Short: "Render a batch report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print Markdown without rendering")
	rootCmd.AddCommand(reportCmd)

	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "List available prompts",
		RunE:  runPrompts,
	}
	rootCmd.AddCommand(promptsCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Launch the interactive dashboard",
		RunE:  runWatch,
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "refresh interval")
	rootCmd.AddCommand(watchCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and model availability",
		RunE:  runDoctor,
	}
	rootCmd.AddCommand(doctorCmd)
}

func newClient() (*api.Client, error) {
	url, err := baseURL()
	if err != nil {
		return nil, err
	}
	return api.NewClient(url), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	inputs, err := schedule.Collect(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no files matched %s", strings.Join(args, " "))
	}

	req := api.SubmitRequest{Name: submitName, Prompts: submitPrompts}
	for _, in := range inputs {
		req.Files = append(req.Files, api.SubmitFile{Name: in.Name, Content: string(in.Content)})
	}

	ctx := cmd.Context()
	batch, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Submitted %s (%s): %d files, %d prompts\n", batch.ID, batch.Name, len(batch.Files), batch.TotalTasks)

	if !submitWait {
		return nil
	}
	for !batch.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		if batch, err = client.Status(ctx, batch.ID); err != nil {
			return err
		}
	}
	printBatch(batch)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		batch, err := client.Status(ctx, args[0])
		if err != nil {
			return err
		}
		printBatch(batch)
		return nil
	}

	active, err := client.Active(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Println("No active batches")
		return nil
	}
	printBatchTable(active)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	page, err := client.Logs(cmd.Context(), logsPage, logsLimit, logsSearch)
	if err != nil {
		return err
	}
	if page.Total == 0 {
		fmt.Println("No batches")
		return nil
	}
	printBatchTable(page.Logs)
	fmt.Printf("\nPage %d of %d (%d batches)\n", page.CurrPage, page.TotalPages, page.Total)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	md, err := client.Report(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	// Piped output stays plain Markdown
	if reportRaw || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(md)
		return nil
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runPrompts(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	groups, err := client.Prompts(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROMPT\tDESCRIPTION")
	for _, cat := range domain.Categories {
		prompts := groups[string(cat)]
		sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
		for _, p := range prompts {
			fmt.Fprintf(w, "%s\t%s\n", p.Key(), p.Description)
		}
	}
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	model := tui.NewModel(tui.ModelConfig{Source: client, Interval: watchInterval})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	_, err = p.Run()
	return err
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("config        ok\n")
	fmt.Printf("database      %s", cfg.General.DatabasePath)
	if st, err := store.New(cfg.General.DatabasePath); err != nil {
		fmt.Printf("  FAILED: %v\n", err)
	} else {
		active, _ := st.ActiveBatches()
		fmt.Printf("  ok (%d active batches)\n", len(active))
		st.Close()
	}

	cat := promptCatalog(cfg, slog.New(slog.DiscardHandler))
	fmt.Printf("prompts       %s", promptSources(cat))
	if infos, err := cat.List(); err != nil {
		fmt.Printf("  FAILED: %v\n", err)
	} else {
		fmt.Printf("  ok (%d prompts)\n", len(infos))
	}

	client, err := generate.New(cfg.GenerateSettings())
	if err != nil {
		return fmt.Errorf("generation backend: %w", err)
	}
	fmt.Printf("provider      %s\n", cfg.Generation.Provider)
	if host := backendHost(client); host != "" {
		fmt.Printf("host          %s\n", host)
	}
	fmt.Printf("model         %s", client.Model())

	checker, ok := client.(generate.ModelChecker)
	if !ok {
		fmt.Println("  (availability not checked)")
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	available, err := checker.CheckModel(ctx)
	switch {
	case err != nil:
		fmt.Println()
		return fmt.Errorf("model check failed: %w", err)
	case !available:
		fmt.Println()
		return fmt.Errorf("model %s is not pulled; run: ollama pull %s", client.Model(), client.Model())
	}
	fmt.Println("  ok")
	return nil
}

// promptSources lists where prompts are read from, highest priority first
func promptSources(cat *catalog.Catalog) string {
	return strings.Join(append(cat.Dirs(), "(embedded)"), ", ")
}

// backendHost returns the server a self-hosted backend talks to
func backendHost(client generate.Client) string {
	if c, ok := client.(*generate.OllamaClient); ok {
		return c.Host()
	}
	return ""
}

func printBatch(b *api.BatchResponse) {
	fmt.Printf("%s  %s  [%s]  %d/%d prompts", b.ID, b.Name, b.Status, b.CompletedTasks, b.TotalTasks)
	if b.FailedTasks > 0 {
		fmt.Printf(", %d failed", b.FailedTasks)
	}
	fmt.Println()

	for _, f := range b.Files {
		fmt.Printf("  file  %s (%s)\n", f.Name, humanize.Bytes(uint64(f.Size)))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROMPT\tSTATUS\tISSUES\tDETAIL")
	for _, t := range b.Tasks {
		detail := ""
		issues := "-"
		switch t.Status {
		case domain.StatusCompleted:
			issues = fmt.Sprintf("%d", len(t.Result))
			detail = fmt.Sprintf("high %d, medium %d, low %d",
				t.IssueCount(domain.SeverityHigh), t.IssueCount(domain.SeverityMedium), t.IssueCount(domain.SeverityLow))
		case domain.StatusFailed:
			detail = fmt.Sprintf("%s: %s", t.ErrorKind, t.ErrorMessage)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", t.Prompt.Key(), t.Status, issues, detail)
	}
	w.Flush()
}

func printBatchTable(batches []api.BatchResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROMPTS\tFAILED\tCREATED")
	for _, b := range batches {
		created := b.CreatedAt
		if t, err := time.Parse(time.RFC3339Nano, b.CreatedAt); err == nil {
			created = humanize.Time(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			b.ID, b.Name, b.Status, b.CompletedTasks, b.TotalTasks, b.FailedTasks, created)
	}
	w.Flush()
}
