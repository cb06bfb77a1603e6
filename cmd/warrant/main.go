// Command warrant runs governance pipeline scenarios against in-memory
// ledgers. It is an operator inspection tool: nothing it prints grants
// execution authority.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "scenario":
		return runScenarioCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: warrant <scenario|verify> [flags] <scenario.yaml>")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// runScenarioCmd runs a full pipeline scenario and prints the staged
// outcome as JSON.
func runScenarioCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scenario", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "log each stage")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage(stderr)
		return 2
	}

	logger := newLogger(stderr, *verbose)
	slog.SetDefault(logger)

	scenario, err := LoadScenario(fs.Arg(0))
	if err != nil {
		logger.Error("scenario load failed", "path", fs.Arg(0), "error", err)
		return 1
	}

	outcome := RunScenario(scenario, time.Now())
	logger.Info("scenario complete",
		"proposal", outcome.Proposal.Reason,
		"approval", outcome.Approval.Reason,
		"admissibility", outcome.Admissibility.Reason,
		"authorization", outcome.Authorization.Reason,
		"verdict", outcome.Verdict.Reason)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		logger.Error("encode outcome failed", "error", err)
		return 1
	}
	if !outcome.Verdict.Valid {
		return 1
	}
	return 0
}

// runVerifyCmd runs a scenario and reports only ledger chain integrity.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage(stderr)
		return 2
	}

	logger := newLogger(stderr, false)
	slog.SetDefault(logger)

	scenario, err := LoadScenario(fs.Arg(0))
	if err != nil {
		logger.Error("scenario load failed", "path", fs.Arg(0), "error", err)
		return 1
	}

	outcome := RunScenario(scenario, time.Now())
	fmt.Fprintf(stdout, "proposal-ledger: verified=%v\n", outcome.ProposalChain)
	fmt.Fprintf(stdout, "approval-ledger: verified=%v\n", outcome.ApprovalChain)
	fmt.Fprintf(stdout, "authorization-ledger: verified=%v\n", outcome.AuthorizationChain)
	if !outcome.ProposalChain || !outcome.ApprovalChain || !outcome.AuthorizationChain {
		return 1
	}
	return 0
}
