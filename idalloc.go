// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package hubmux

import "sync/atomic"

// idAllocator hands out strictly monotonically increasing invocation ids
// starting at 1, lock-free and callable from any goroutine.
type idAllocator struct {
	next int32
}

// allocate returns the pre-increment value: the first call returns 1.
func (a *idAllocator) allocate() (int32, error) {
	id := atomic.AddInt32(&a.next, 1)
	if id <= 0 {
		// The 32-bit space wrapped. Exhausting the id space is terminal for
		// the channel; never hand back a reused or negative id.
		return 0, ErrIDSpaceExhausted
	}
	return id, nil
}
