package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"lambda-agent/internal/adapter/channel"
	"lambda-agent/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "lambda"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "lambda":
		err = runLambda()
	case "local":
		err = runLocal(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agent --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`agent - tool-using AI assistant for AWS Lambda

USAGE:
    agent [COMMAND] [ARGS]

COMMANDS:
    lambda              Run the Lambda runtime loop (default)
    local "<prompt>"    Run one invocation and print the response envelope
    serve [addr]        Serve a local Function URL emulator (default :8080)

CONFIGURATION:
    Application settings: DEFAULT_MODEL_ID, MAX_PROMPT_LENGTH, ENABLE_* ...
    Runtime settings:     AWS_REGION, TRACER_*, CIRCUIT_BREAKER_*

EXAMPLES:
    agent local "What is 25 * 4?"
    agent serve 127.0.0.1:9000`)
}

func runLambda() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	lambda.Start(lambdaHandler(a.pipeline))
	return nil
}

func runLocal(args []string) error {
	prompt := "What is 25 * 4? Also, what's the current time?"
	if len(args) > 0 {
		prompt = args[0]
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	raw, err := localEvent(prompt)
	if err != nil {
		return err
	}
	env := a.pipeline.Handle(withInvocationID(ctx, usecase.NewInvocationID()), raw)

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runServe(args []string) error {
	addr := ":8080"
	if len(args) > 0 {
		addr = args[0]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ch := channel.NewHTTPChannel(addr, a.pipeline, a.logger, channel.HTTPOptions{
		NewID: usecase.NewInvocationID,
	})
	if err := ch.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return ch.Stop(shutdownCtx)
}
