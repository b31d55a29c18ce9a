package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/aesop/internal/config"
	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/worker"
)

var (
	concurrency  int
	batchTimeout time.Duration
	llmProvider  string
	llmModel     string
	memoryPath   string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run multiple chat messages through Aesop in parallel",
	Long: `Batch processes multiple independent chat messages concurrently, one line
of the input file per message:
- Read messages from the input file (one per line, '#'-prefixed lines skipped)
- Run each message through the orchestrator in its own session
- Print each final response to stdout, tagged by message index

Example:
  aesop batch questions.txt
  aesop batch questions.txt --concurrency 10 --llm-provider openai`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	batchCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	batchCmd.Flags().StringVar(&memoryPath, "memory-db", "aesop-memory.db", "path to the acceptance-memory sqlite database")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Aesop Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	cfg := config.DefaultConfig()
	cfg.Memory.Path = memoryPath
	cfg.LLM.Provider = llmProvider
	cfg.LLM.Model = llmModel

	switch llmProvider {
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case "anthropic", "claude":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
	case "ollama":
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}

	messages, err := readMessagesFromFile(file)
	if err != nil {
		return fmt.Errorf("read messages: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Loaded %d messages\n\n", len(messages))

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	pool := worker.NewPool(concurrency)
	pool.Start()

	for i, msg := range messages {
		pool.Submit(&chatJob{
			index:        i,
			message:      msg,
			orchestrator: a.orchestrator,
			ctx:          ctx,
		})
	}

	results := pool.Wait()

	ordered := make([]*chatResult, len(results))
	for _, r := range results {
		cr := r.(*chatResult)
		ordered[cr.index] = cr
	}

	successCount := 0
	for _, r := range ordered {
		successCount++
		fmt.Printf("[%d] %s\n    -> %s\n\n", r.index, r.Message, r.Response)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d messages\n", len(messages))
	fmt.Fprintf(os.Stderr, "  Succeeded: %d\n", successCount)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

// chatJob runs a single message through the orchestrator in its own fresh
// session, so batch entries never interfere with each other's context.
type chatJob struct {
	index        int
	message      string
	orchestrator interface {
		Handle(ctx context.Context, message, sessionID string) *model.OrchestratorState
	}
	ctx context.Context
}

// Execute ignores the pool's own background context and runs against the
// batch-wide timeout context captured at submission time, so a single slow
// message can't outlive the overall --timeout budget.
func (j *chatJob) Execute(context.Context) worker.Result {
	state := j.orchestrator.Handle(j.ctx, j.message, uuid.NewString())
	return &chatResult{
		index:    j.index,
		Message:  j.message,
		Response: state.FinalResponse,
	}
}

// chatResult is the outcome of one batch message.
type chatResult struct {
	index    int
	Message  string
	Response string
	Error    error
}

// GetError returns the error from the chat result.
func (r *chatResult) GetError() error {
	return r.Error
}

// readMessagesFromFile reads newline-delimited chat messages, skipping
// blank lines and '#'-prefixed comments. Repeated lines are kept, not
// deduplicated: batch messages are independent requests and repeats are
// meaningful (e.g. load testing).
func readMessagesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var messages []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		messages = append(messages, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return messages, nil
}
