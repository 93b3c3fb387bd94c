package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/hooop/vex/internal/classify"
	"github.com/hooop/vex/internal/config"
	"github.com/hooop/vex/internal/diagnosis"
	"github.com/hooop/vex/internal/errs"
	"github.com/hooop/vex/internal/llm"
	"github.com/hooop/vex/internal/owner"
	"github.com/hooop/vex/internal/render"
	"github.com/hooop/vex/internal/report"
	"github.com/hooop/vex/internal/source"
	"github.com/hooop/vex/internal/trace"
)

// runAnalyze implements `vex <executable> [args...]` (spec §6): run the
// checker to get a report, run the debugger once to get the full
// ExecTrace, then derive and confirm a RootCause per eligible record.
func runAnalyze(ctx context.Context, executable string, args []string) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return errs.ExitCode(err), err
	}
	if _, err := exec.LookPath(cfg.DebuggerPath); err != nil {
		cerr := errs.ConfigError("CONFIG_NO_DEBUGGER", "debugger binary not found on PATH", map[string]interface{}{
			"debugger": cfg.DebuggerPath,
		})
		return errs.ExitCode(cerr), cerr
	}
	if _, err := os.Stat(executable); err != nil {
		cerr := errs.ConfigError("CONFIG_NO_EXECUTABLE", "executable not found", map[string]interface{}{"path": executable})
		return errs.ExitCode(cerr), cerr
	}

	rep, err := runChecker(ctx, executable, args)
	if err != nil {
		return errs.ExitCode(err), err
	}

	eligible := rep.DeepAnalysisRecords()
	if len(eligible) == 0 {
		render.Plain(os.Stdout, nil, rep.Summary)
		return 0, nil
	}

	execTrace, err := runTracer(ctx, cfg, executable, args)
	if err != nil {
		return 2, err
	}

	var client llm.Client
	if cfg.LLMEndpoint != "" {
		client = llm.NewHTTPClient(cfg.LLMEndpoint, cfg.LLMModel, cfg.APIKey, 20*time.Second)
	}

	diagnoses := analyzeRecords(ctx, eligible, execTrace, client)
	render.Plain(os.Stdout, diagnoses, rep.Summary)
	return 1, nil
}

// runChecker runs the dynamic memory checker (spec §1, §6: the checker
// binary itself is an external collaborator — vex consumes its text
// output without understanding its internals).
func runChecker(ctx context.Context, executable string, args []string) (report.Report, error) {
	checkerArgs := append([]string{"--leak-check=full", "--show-leak-kinds=all", executable}, args...)
	cmd := exec.CommandContext(ctx, "valgrind", checkerArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out // the checker's loss-record report is written to stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return report.Report{}, errs.TraceError("CHECKER_UNAVAILABLE", err.Error(), map[string]interface{}{
				"checker": "valgrind",
			})
		}
	}
	return report.NewParser().Parse(&out)
}

// runTracer drives the debugger once across the whole program run,
// producing the singleton ExecTrace every record's sub-trace is derived
// from (spec §5).
func runTracer(ctx context.Context, cfg config.Config, executable string, args []string) (trace.ExecTrace, error) {
	adapter, err := trace.NewMIAdapter(cfg.DebuggerPath, cfg.Platform, executable, args)
	if err != nil {
		return trace.ExecTrace{}, errs.TraceError("DEBUGGER_LAUNCH", err.Error(), nil)
	}
	defer adapter.Close()

	cache := source.NewCache()
	tcfg := trace.DefaultConfig()
	tcfg.StepCap = cfg.MaxTraceSteps
	if len(cfg.FreeWrappers) > 0 {
		tcfg.FreeWrappers = cfg.FreeWrappers
	}
	tcfg.EmulationPrefix = cfg.Platform

	drv, err := trace.NewDriver(ctx, adapter, cache, tcfg)
	if err != nil {
		return trace.ExecTrace{}, errs.TraceError("DEBUGGER_INCOMPATIBLE", err.Error(), nil)
	}
	return drv.Trace(ctx)
}

// analyzeRecords derives and confirms a RootCause for every eligible
// record, tolerating per-record TrackerInconclusive/TraceError failures
// without losing the rest (spec §7 propagation rule).
func analyzeRecords(ctx context.Context, records []report.LeakRecord, full trace.ExecTrace, client llm.Client) []diagnosis.Diagnosis {
	occurrence := map[string]int{}
	diagnoses := make([]diagnosis.Diagnosis, 0, len(records))

	for i, rec := range records {
		site := rec.InnermostFrame()
		key := fmt.Sprintf("%s:%d", site.File, site.Line)
		n := occurrence[key]
		occurrence[key] = n + 1

		bytes := rec.BytesDirect + rec.BytesIndirect

		sub := full.SubTraceFrom(site.File, site.Line, n)
		cause, err := owner.New().Run(rec, sub)
		if err != nil {
			diagnoses = append(diagnoses, diagnosis.FromInconclusive(i+1, bytes, inconclusiveReason(err)))
			continue
		}

		confirmed, err := classify.Confirm(cause, sub)
		if err != nil {
			diagnoses = append(diagnoses, diagnosis.FromInconclusive(i+1, bytes, inconclusiveReason(err)))
			continue
		}

		d := diagnosis.FromRootCause(i+1, bytes, site.File, confirmed)
		if client != nil {
			if narrative, err := client.Explain(ctx, llm.Request{RootCause: confirmed}); err == nil {
				d.Narrative = narrative
			}
		}
		diagnoses = append(diagnoses, d)
	}
	return diagnoses
}

func inconclusiveReason(err error) string {
	if inc, ok := err.(*errs.TrackerInconclusive); ok {
		return inc.Reason
	}
	return err.Error()
}
