/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ring provides a fixed-capacity circular buffer used for bounded histories.
package ring

// Buffer keeps the most recent Cap() items pushed into it. Pushing into a full
// buffer overwrites the oldest item. A Buffer is not safe for concurrent use;
// callers guard it with their own lock.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// New returns an empty buffer holding at most capacity items. A capacity below
// one is treated as one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Last returns the newest item.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Slice copies the items out, oldest first.
func (b *Buffer[T]) Slice() []T {
	return b.Tail(b.size)
}

// Tail copies the newest n items out, oldest first. n larger than Len() is
// clamped; n <= 0 returns an empty slice.
func (b *Buffer[T]) Tail(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}

// Reset drops every item, keeping the capacity.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head, b.size = 0, 0
}
