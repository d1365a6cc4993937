/*
 * kcore - RV32IMAC simulator driver.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kuopinghsu/kcore/internal/config"
	"github.com/kuopinghsu/kcore/internal/console"
	"github.com/kuopinghsu/kcore/internal/cpu"
	"github.com/kuopinghsu/kcore/internal/device"
	"github.com/kuopinghsu/kcore/internal/gdbstub"
	"github.com/kuopinghsu/kcore/internal/loader"
	"github.com/kuopinghsu/kcore/internal/logutil"
	"github.com/kuopinghsu/kcore/internal/memory"
)

var Logger *slog.Logger

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// logutil.Handler always mirrors Warn/Error to stderr; passing stderr
	// as the primary sink too would print those lines twice. Only open a
	// distinct sink file when --log-file names one (grounded on the
	// teacher's main.go: optLogFile left unset means no log sink, just
	// the stderr mirror).
	var logSink io.Writer
	if cfg.LogFile != "" {
		f, err := os.Create(cfg.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not create log file:", err)
			os.Exit(1)
		}
		defer f.Close()
		logSink = f
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	Logger = slog.New(logutil.New(logSink, programLevel))
	slog.SetDefault(Logger)

	Logger.Info("rv32sim started", "isa", cfg.ISA, "program", cfg.ProgramPath)

	mem := memory.New(cfg.MemBase, cfg.MemSize)
	mem.UART = device.NewUART(os.Stdout)
	clint := &device.CLINT{}
	mem.CLINT = clint
	mem.Console = func(b byte) { os.Stdout.Write([]byte{b}) }

	result, err := loader.Load(cfg.ProgramPath, mem)
	if err != nil {
		Logger.Error("loader failed", "error", err)
		os.Exit(1)
	}
	mem.TohostAddr = result.TohostAddr

	hart := cpu.New(mem, clint)
	hart.MaxInstructions = cfg.Instructions
	hart.Reset(result.Entry)

	Logger.Info("entry point", "pc", fmt.Sprintf("0x%08x", result.Entry),
		"mem_base", fmt.Sprintf("0x%08x", cfg.MemBase), "mem_size", cfg.MemSize)

	var traceFile *os.File
	var traceWriter *bufio.Writer
	if cfg.LogCommits {
		traceFile, err = os.Create(cfg.LogPath)
		if err != nil {
			Logger.Error("could not create trace file", "error", err)
			os.Exit(1)
		}
		defer traceFile.Close()
		traceWriter = bufio.NewWriter(traceFile)
		defer traceWriter.Flush()
		hart.CommitLog = func(line string) { fmt.Fprintln(traceWriter, line) }
	}

	// SIGINT/SIGTERM are deliberately left untrapped: the process exits via
	// the Go runtime's default disposition, matching the single-threaded
	// cooperative model's cancellation story (Ctrl-C is a GDB RSP concern,
	// handled in internal/gdbstub, not an OS signal here).

	switch {
	case cfg.GDBEnabled:
		addr := fmt.Sprintf(":%d", cfg.GDBPort)
		server := gdbstub.NewServer(hart, mem, result.Entry)
		if err := server.ListenAndServe(addr); err != nil {
			Logger.Error("gdb stub exited", "error", err)
			os.Exit(1)
		}
	case cfg.Console:
		console.Run(hart, mem)
	default:
		runToCompletion(hart, mem)
	}

	if result.HasSignature && cfg.Signature != "" {
		if err := loader.WriteSignature(cfg.Signature, mem, result.SignatureStart, result.SignatureEnd, cfg.SigGranularity); err != nil {
			Logger.Error("could not write signature file", "error", err)
			os.Exit(1)
		}
	}

	Logger.Info("run complete", "instructions", hart.InstCount, "exit_code", mem.ExitCode)
	os.Exit(int(mem.ExitCode))
}

func runToCompletion(hart *cpu.CPU, mem *memory.Memory) {
	for {
		res := hart.Step()
		if mem.ExitRequested {
			return
		}
		if res.Stop {
			return
		}
	}
}
