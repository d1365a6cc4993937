/*
 * kcore - Interactive operator console.
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

// Package console implements a small liner-based interactive operator
// console for single-stepping and inspecting the interpreter outside of a
// GDB session, grounded on the teacher's command/reader console idiom.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/kuopinghsu/kcore/internal/cpu"
	"github.com/kuopinghsu/kcore/internal/memory"
)

var commands = []string{"regs", "mem", "break", "step", "continue", "quit", "help"}

// Run drives an interactive read-eval-print loop against c/mem until the
// operator quits or EOF is reached on stdin.
func Run(c *cpu.CPU, mem *memory.Memory) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var matches []string
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, prefix) {
				matches = append(matches, cmd)
			}
		}
		return matches
	})

	breakpoints := map[uint32]bool{}

	for {
		input, err := line.Prompt("rv32sim> ")
		if err != nil {
			if err != io.EOF {
				fmt.Println(err)
			}
			return
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "regs":
			printRegs(c)
		case "mem":
			if len(fields) < 3 {
				fmt.Println("usage: mem <addr> <len>")
				continue
			}
			dumpMem(mem, fields[1], fields[2])
		case "break":
			if len(fields) < 2 {
				fmt.Println("usage: break <addr>")
				continue
			}
			addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
			if err != nil {
				fmt.Println("bad address:", err)
				continue
			}
			breakpoints[uint32(addr)] = true
			fmt.Printf("breakpoint set at 0x%08x\n", addr)
		case "step":
			n := 1
			if len(fields) > 1 {
				if v, err := strconv.Atoi(fields[1]); err == nil {
					n = v
				}
			}
			for i := 0; i < n; i++ {
				c.Step()
			}
			printRegs(c)
		case "continue":
			runUntilBreak(c, breakpoints)
		case "quit", "exit":
			return
		case "help":
			fmt.Println(strings.Join(commands, " "))
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func runUntilBreak(c *cpu.CPU, breakpoints map[uint32]bool) {
	for {
		res := c.Step()
		if breakpoints[c.GetPC()] {
			fmt.Printf("breakpoint hit at 0x%08x\n", c.GetPC())
			return
		}
		if res.Stop {
			fmt.Printf("stopped at 0x%08x (reason %d)\n", c.GetPC(), res.Reason)
			return
		}
	}
}

func printRegs(c *cpu.CPU) {
	for i := 0; i < 32; i++ {
		fmt.Printf("x%-2d=0x%08x  ", i, c.ReadReg(i))
		if i%4 == 3 {
			fmt.Println()
		}
	}
	fmt.Printf("pc =0x%08x\n", c.GetPC())
}

func dumpMem(mem *memory.Memory, addrStr, lenStr string) {
	addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 32)
	if err != nil {
		fmt.Println("bad address:", err)
		return
	}
	length, err := strconv.Atoi(lenStr)
	if err != nil {
		fmt.Println("bad length:", err)
		return
	}
	for i := 0; i < length; i += 4 {
		fmt.Printf("0x%08x: 0x%08x\n", uint32(addr)+uint32(i), mem.ReadWord(uint32(addr)+uint32(i)))
	}
}
