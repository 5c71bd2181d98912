// =============================================================================
// PromptFlow 命令行入口
// =============================================================================
// 编译、渲染结构化提示词，并对 OpenAI 兼容端点执行预测
//
// 使用方法:
//
//	promptflow compile -module qa.yaml            # 输出编译后的提示词模板
//	promptflow compile -module qa.yaml -watch     # 模块文件变更时重新编译
//	promptflow render  -module qa.yaml -input question="2+2?"
//	promptflow predict -module qa.yaml -input question="2+2?"
//	promptflow predict -module qa.yaml -input question="2+2?" -stream
//	promptflow history list -limit 20             # 查看预测审计记录
//	promptflow history prune -older-than 720h     # 清理过期记录
//	promptflow version                            # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/promptflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage marks a command line that could not be parsed; usage has already
// been printed.
var errUsage = errors.New("invalid usage")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errUsage
	}

	switch args[0] {
	case "compile":
		return runCompile(ctx, args[1:], stdout, stderr)
	case "render":
		return runRender(args[1:], stdout, stderr)
	case "predict":
		return runPredict(ctx, args[1:], stdout, stderr)
	case "history":
		return runHistory(ctx, args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return errUsage
	}
}

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// loadConfig 加载并验证配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "PromptFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `PromptFlow - structured prompts for chat models

Usage:
  promptflow <command> [options]

Commands:
  compile   Print the compiled prompt template of a module
  render    Print the prompt for a module and a set of inputs
  predict   Run a prediction against the configured endpoint
  history   List or prune stored prediction records
  version   Show version information
  help      Show this help message

Common options:
  -config <path>        Path to configuration file (YAML)
  -module <path>        Module definition (YAML or JSON)
  -input name=value     Input value, repeatable; JSON literals are decoded
  -inputs <path>        YAML or JSON file with an input object

Options for 'compile':
  -watch                Recompile whenever the module file changes

Options for 'predict':
  -stream               Print partial outputs as they arrive
  -model <name>         Override the configured model
  -debounce-ms <n>      Minimum spacing of streamed updates
  -validate=false       Skip input and output validation
  -metrics-file <path>  Write Prometheus metrics in text format on exit

History subcommands:
  history list [-trace id] [-model m] [-status s] [-limit n]
  history get <id>
  history prune -older-than <duration>

Examples:
  promptflow compile -module qa.yaml
  promptflow predict -config promptflow.yaml -module qa.yaml -input question="What is 2+2?"
  promptflow predict -module qa.yaml -inputs inputs.json -stream
  promptflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
