/*
 * kcore - Command-line configuration.
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

// Package config parses the simulator driver's command-line options
// (spec.md §6) plus an optional key=value configuration file, a much
// smaller surface than the teacher's device configuration-file parser
// since this simulator has a fixed device set.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"

	"github.com/kuopinghsu/kcore/internal/memory"
)

// Config is the fully-resolved set of driver options.
type Config struct {
	ISA            string
	LogCommits     bool
	LogPath        string
	LogFile        string
	Signature      string
	SigGranularity int
	MemBase        uint32
	MemSize        uint32
	Instructions   uint64
	GDBEnabled     bool
	GDBPort        int
	Console        bool
	ConfigFile     string
	ProgramPath    string
}

// Parse interprets args (typically os.Args[1:]) using getopt-style long
// flags per spec.md §6, plus the `+signature=`/`+signature-granularity=`
// Verilog-plusarg tokens spec.md §6 mandates for those two options
// specifically (getopt/v2 only emits GNU-style `--flag`/`-f` options, so
// these are pre-scanned and stripped before getopt ever sees the args).
// If `--config`/`-c` names a file, its key=value lines seed the defaults
// of --isa, -m (mem_base/mem_size) and --gdb-port; explicit command-line
// flags always win.
func Parse(args []string) (*Config, error) {
	rest, sigPath, granStr := extractPlusArgs(args)

	configPath := extractFlagValue(rest, "config", 'c')
	fileValues := map[string]string{}
	if configPath != "" {
		fv, err := loadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: loading %q: %w", configPath, err)
		}
		fileValues = fv
	}
	def := func(key, fallback string) string {
		if v, ok := fileValues[key]; ok {
			return v
		}
		return fallback
	}

	defaultMemSpec := ""
	if base, size := def("mem_base", ""), def("mem_size", ""); base != "" || size != "" {
		if base == "" {
			base = fmt.Sprintf("0x%x", memory.DefaultBase)
		}
		if size == "" {
			size = fmt.Sprintf("0x%x", memory.DefaultSize)
		}
		defaultMemSpec = base + ":" + size
	}

	optISA := getopt.StringLong("isa", 0, def("isa", "rv32ima_zicsr"), "ISA subset (rv32ima | rv32ima_zicsr)")
	optLogCommits := getopt.BoolLong("log-commits", 0, "Enable commit logging")
	optTrace := getopt.BoolLong("trace", 0, "Alias for --log-commits")
	optLogPath := getopt.StringLong("log", 0, "sim_trace.txt", "Commit log path")
	optLogFile := getopt.StringLong("log-file", 0, "", "General log sink (default: stderr warnings/errors only)")
	optMemSpec := getopt.StringLong("m", 'm', defaultMemSpec, "Memory range base:size, hex, e.g. 0x80000000:0x200000")
	optInstructions := getopt.StringLong("instructions", 0, "100000000", "Instruction cap, 0 = unlimited")
	optGDB := getopt.BoolLong("gdb", 0, "Enable the GDB RSP stub")
	optGDBPort := getopt.StringLong("gdb-port", 0, def("gdb_port", "3333"), "GDB stub TCP port")
	optConsole := getopt.BoolLong("console", 0, "Enable the interactive operator console")
	optConfig := getopt.StringLong("config", 'c', configPath, "Configuration file (key=value lines; CLI flags override)")
	optHelp := getopt.BoolLong("help", 'h', "Show usage")

	getopt.CommandLine.Parse(append([]string{"rv32sim"}, rest...))

	if *optHelp {
		getopt.Usage()
		return nil, fmt.Errorf("config: help requested")
	}

	cfg := &Config{
		ISA:        *optISA,
		LogCommits: *optLogCommits || *optTrace,
		LogPath:    *optLogPath,
		LogFile:    *optLogFile,
		Signature:  sigPath,
		MemBase:    memory.DefaultBase,
		MemSize:    memory.DefaultSize,
		GDBEnabled: *optGDB,
		Console:    *optConsole,
		ConfigFile: *optConfig,
	}

	if cfg.ISA != "rv32ima" && cfg.ISA != "rv32ima_zicsr" {
		return nil, fmt.Errorf("config: unsupported ISA %q", cfg.ISA)
	}

	granularityStr := "4"
	if granStr != "" {
		granularityStr = granStr
	}
	granularity, err := strconv.Atoi(granularityStr)
	if err != nil || (granularity != 1 && granularity != 2 && granularity != 4) {
		return nil, fmt.Errorf("config: signature granularity must be 1, 2 or 4, got %q", granularityStr)
	}
	cfg.SigGranularity = granularity

	instructions, err := strconv.ParseUint(*optInstructions, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("config: bad --instructions value %q: %w", *optInstructions, err)
	}
	cfg.Instructions = instructions

	gdbPort, err := strconv.Atoi(*optGDBPort)
	if err != nil {
		return nil, fmt.Errorf("config: bad --gdb-port value %q: %w", *optGDBPort, err)
	}
	cfg.GDBPort = gdbPort

	if *optMemSpec != "" {
		base, size, err := parseMemSpec(*optMemSpec)
		if err != nil {
			return nil, err
		}
		cfg.MemBase, cfg.MemSize = base, size
	}

	positional := getopt.CommandLine.Args()
	if len(positional) != 1 {
		return nil, fmt.Errorf("config: expected exactly one program path argument, got %d", len(positional))
	}
	cfg.ProgramPath = positional[0]

	return cfg, nil
}

// extractPlusArgs pulls the Verilog-plusarg-style `+signature=`/
// `+signature-granularity=` tokens spec.md §6 specifies out of args,
// returning the remaining GNU-style args for getopt plus whatever values
// were found (empty string when a plusarg was not given).
func extractPlusArgs(args []string) (rest []string, signature string, granularity string) {
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "+signature-granularity="):
			granularity = strings.TrimPrefix(a, "+signature-granularity=")
		case strings.HasPrefix(a, "+signature="):
			signature = strings.TrimPrefix(a, "+signature=")
		default:
			rest = append(rest, a)
		}
	}
	return rest, signature, granularity
}

// extractFlagValue manually looks up a `--long=value`/`--long value`/
// `-s value` flag in args. Used only to recover --config's value before
// getopt's flags (whose defaults the config file seeds) are registered.
func extractFlagValue(args []string, long string, short byte) string {
	longEq := "--" + long + "="
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, longEq):
			return strings.TrimPrefix(a, longEq)
		case a == "--"+long && i+1 < len(args):
			return args[i+1]
		case short != 0 && a == "-"+string(short) && i+1 < len(args):
			return args[i+1]
		}
	}
	return ""
}

// parseMemSpec parses "base:size" where both fields are hex (with or
// without a 0x prefix), per spec.md §6's `-m<base>:<size>` flag.
func parseMemSpec(spec string) (base, size uint32, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: malformed -m spec %q, want base:size", spec)
	}
	b, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("config: bad memory base %q: %w", parts[0], err)
	}
	s, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("config: bad memory size %q: %w", parts[1], err)
	}
	return uint32(b), uint32(s), nil
}

// loadConfigFile reads "key = value" lines (blank lines and lines whose
// first non-space character is '#' are ignored), grounded on the
// teacher's config/configparser comment convention but flattened to the
// simple key=value shape SPEC_FULL.md §2.2 calls for (memory base/size,
// default ISA, default ports) rather than the teacher's full device
// grammar, which has no RV32 analogue.
func loadConfigFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", line, text)
		}
		values[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
