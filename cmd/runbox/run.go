package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/logging"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/server"
)

// timeoutExitCode matches coreutils timeout(1).
const timeoutExitCode = 124

var (
	languageFlag      string
	preloadFlag       string
	enableNetworkFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a script locally through the sandbox",
	Long: `Run a script through the same validation and execution path the server uses.

Reads the program from the given file, or from stdin when the file is "-" or
omitted. The process exits with the script's exit status, or 124 on timeout.

Examples:
  runbox run hello.py
  echo 'print(1 + 1)' | runbox run
  runbox run --preload setup.py main.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&languageFlag, "language", "python", "Language identifier to validate")
	runCmd.Flags().StringVar(&preloadFlag, "preload", "", "File whose contents run before the script")
	runCmd.Flags().BoolVar(&enableNetworkFlag, "enable-network", false, "Recorded only; no network isolation exists")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	code, err := readSource(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var preload string
	if preloadFlag != "" {
		data, err := os.ReadFile(preloadFlag)
		if err != nil {
			return fmt.Errorf("reading preload: %w", err)
		}
		preload = string(data)
	}

	req := sandbox.Request{
		Language:      languageFlag,
		Code:          code,
		Preload:       preload,
		EnableNetwork: enableNetworkFlag,
	}

	policy := server.PolicyFromConfig(cfg)
	if err := policy.CheckLanguage(req.Language); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sb := sandbox.NewLocalSandbox(policy, sandbox.WithLogger(logger))
	res, err := sb.Run(ctx, req)
	if err != nil {
		if sandbox.KindOf(err) == sandbox.KindTimeout {
			fmt.Fprintf(cmd.ErrOrStderr(), "runbox: %v\n", err)
			return &exitCodeError{code: timeoutExitCode}
		}
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	if res.ExitCode != 0 {
		return &exitCodeError{code: res.ExitCode}
	}
	return nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}
