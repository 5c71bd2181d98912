package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/promptflow/config"
	"github.com/BaSui01/promptflow/history"
	"github.com/BaSui01/promptflow/predict"
	"github.com/BaSui01/promptflow/signature"
)

// =============================================================================
// 📥 输入解析
// =============================================================================

// inputFlags collects repeated -input name=value flags. Values that parse as
// JSON literals are decoded; anything else is kept as a string.
type inputFlags map[string]any

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f inputFlags) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("input %q must have the form name=value", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	f[name] = v
	return nil
}

// loadInputs merges an optional inputs file with -input flags; flags win.
func loadInputs(path string, flags inputFlags) (map[string]any, error) {
	inputs := make(map[string]any, len(flags))
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read inputs file: %w", err)
		}
		// YAML 是 JSON 的超集，两种格式都可以直接解析
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs file: %w", err)
		}
	}
	for k, v := range flags {
		inputs[k] = v
	}
	return inputs, nil
}

func loadModule(path string) (signature.Module, error) {
	if path == "" {
		return signature.Module{}, fmt.Errorf("%w: -module is required", errUsage)
	}
	m, err := signature.NewFileLoader().LoadFile(path)
	if err != nil {
		return signature.Module{}, err
	}
	if err := signature.Normalize(*m).Check(); err != nil {
		return signature.Module{}, fmt.Errorf("invalid module %s: %w", path, err)
	}
	return *m, nil
}

// =============================================================================
// 🛠️ compile / render
// =============================================================================

func runCompile(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("compile", stderr)
	modulePath := fs.String("module", "", "Module definition (YAML or JSON)")
	watch := fs.Bool("watch", false, "Recompile whenever the module file changes")
	poll := fs.Duration("poll", time.Second, "Poll interval for -watch")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	m, err := loadModule(*modulePath)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, signature.CompilePrompt(m))
	if !*watch {
		return nil
	}

	logger := initLogger(loadLogConfig())
	defer func() { _ = logger.Sync() }()

	w, err := signature.NewModuleWatcher(*modulePath,
		signature.WithPollInterval(*poll),
		signature.WithWatcherLogger(logger))
	if err != nil {
		return err
	}
	w.OnChange(func(evt signature.ModuleEvent) {
		if evt.Err != nil {
			fmt.Fprintf(stderr, "reload %s: %v\n", evt.Path, evt.Err)
			return
		}
		if err := signature.Normalize(*evt.Module).Check(); err != nil {
			fmt.Fprintf(stderr, "reload %s: invalid module: %v\n", evt.Path, err)
			return
		}
		fmt.Fprintf(stdout, "\n# %s reloaded at %s\n", evt.Path, evt.Timestamp.Format(time.RFC3339))
		fmt.Fprintln(stdout, signature.CompilePrompt(*evt.Module))
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func runRender(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("render", stderr)
	modulePath := fs.String("module", "", "Module definition (YAML or JSON)")
	inputsPath := fs.String("inputs", "", "YAML or JSON file with an input object")
	flags := inputFlags{}
	fs.Var(flags, "input", "Input value as name=value (repeatable)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	m, err := loadModule(*modulePath)
	if err != nil {
		return err
	}
	inputs, err := loadInputs(*inputsPath, flags)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, signature.Render(signature.Normalize(m), inputs))
	return nil
}

// loadLogConfig reads log settings for commands that take no -config flag.
func loadLogConfig() config.LogConfig {
	cfg, err := loadConfig("")
	if err != nil {
		return config.DefaultLogConfig()
	}
	return cfg.Log
}

// =============================================================================
// 🔮 predict
// =============================================================================

type streamLine struct {
	Seq    int               `json:"seq"`
	Final  bool              `json:"final"`
	Values *signature.Values `json:"values,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func runPredict(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("predict", stderr)
	configPath := fs.String("config", "", "Path to config file")
	modulePath := fs.String("module", "", "Module definition (YAML or JSON)")
	inputsPath := fs.String("inputs", "", "YAML or JSON file with an input object")
	stream := fs.Bool("stream", false, "Print partial outputs as they arrive")
	model := fs.String("model", "", "Override the configured model")
	debounce := fs.Int("debounce-ms", 0, "Minimum spacing of streamed updates in milliseconds")
	validate := fs.Bool("validate", true, "Validate inputs and outputs against module schemas")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics in text format on exit")
	flags := inputFlags{}
	fs.Var(flags, "input", "Input value as name=value (repeatable)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// 命令行参数覆盖配置文件中的预测默认值
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.LLM.Model = *model
		case "debounce-ms":
			cfg.Predict.DebounceMs = *debounce
		case "validate":
			cfg.Predict.Validate = *validate
		}
	})
	if cfg.Predict.DebounceMs < 0 {
		return fmt.Errorf("%w: -debounce-ms must not be negative", errUsage)
	}

	m, err := loadModule(*modulePath)
	if err != nil {
		return err
	}
	inputs, err := loadInputs(*inputsPath, flags)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	var opts predict.Options
	if *stream {
		err = streamPrediction(ctx, a.predictor, m, inputs, opts, stdout)
	} else {
		err = batchPrediction(ctx, a.predictor, m, inputs, opts, stdout)
	}
	if merr := a.writeMetrics(*metricsFile); merr != nil {
		logger.Warn("metrics not written", zap.Error(merr))
	}
	return err
}

func batchPrediction(ctx context.Context, p *predict.Predictor, m signature.Module, inputs map[string]any, opts predict.Options, stdout io.Writer) error {
	pred, err := p.PredictDetailed(ctx, m, inputs, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pred.Values)
}

func streamPrediction(ctx context.Context, p *predict.Predictor, m signature.Module, inputs map[string]any, opts predict.Options, stdout io.Writer) error {
	s, err := p.PredictStream(ctx, m, inputs, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	enc := json.NewEncoder(stdout)
	for u := range s.Updates() {
		line := streamLine{Seq: u.Seq, Final: u.Final, Values: u.Values}
		if u.Err != nil {
			line.Error = u.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return s.Wait()
}

// =============================================================================
// 🗂️ history
// =============================================================================

func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: promptflow history <list|get|prune> [options]")
		return errUsage
	}
	sub, rest := args[0], args[1:]

	fs := newFlagSet("history "+sub, stderr)
	configPath := fs.String("config", "", "Path to config file")
	traceID := fs.String("trace", "", "Filter by trace id")
	model := fs.String("model", "", "Filter by model")
	status := fs.String("status", "", "Filter by status (ok, error, validation_failed)")
	limit := fs.Int("limit", 20, "Maximum number of records")
	olderThan := fs.Duration("older-than", 0, "Prune records older than this duration")
	if err := parseFlags(fs, rest); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := history.Open(historyConfig(cfg.History), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch sub {
	case "list":
		recs, err := store.List(ctx, history.Filter{
			TraceID: *traceID,
			Model:   *model,
			Status:  *status,
			Limit:   *limit,
		})
		if err != nil {
			return err
		}
		return enc.Encode(recs)
	case "get":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "Usage: promptflow history get <id>")
			return errUsage
		}
		rec, err := store.Get(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	case "prune":
		if *olderThan <= 0 {
			fmt.Fprintln(stderr, "history prune requires a positive -older-than")
			return errUsage
		}
		n, err := store.Prune(ctx, time.Now().Add(-*olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "pruned %d records\n", n)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown history command: %s\n", sub)
		return errUsage
	}
}
