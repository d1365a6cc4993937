/*
 * kcore - Architectural test signature extraction.
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

package loader

import (
	"bufio"
	"fmt"
	"os"

	"github.com/kuopinghsu/kcore/internal/memory"
)

// WriteSignature emits one lowercase, zero-padded hex line per word of
// granularity bytes (1, 2 or 4) from start (inclusive) to end (exclusive),
// per spec.md §4.8, used for RISCOF-style architectural test comparison.
func WriteSignature(path string, mem *memory.Memory, start, end uint32, granularity int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("loader: creating signature file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	digits := granularity * 2
	for addr := start; addr < end; addr += uint32(granularity) {
		v := mem.Read(addr, granularity)
		if _, err := fmt.Fprintf(w, "%0*x\n", digits, v); err != nil {
			return fmt.Errorf("loader: writing signature: %w", err)
		}
	}
	return nil
}
