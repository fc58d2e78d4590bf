// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rategate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyCap(t *testing.T) {
	g := New(map[string]Limit{"openrouter": {MaxConcurrent: 2}}, Limit{})
	ctx := context.Background()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx, "openrouter")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak concurrency = %d, cap is 2", p)
	}
	if g.InFlight("openrouter") != 0 {
		t.Fatalf("seats leaked: %d", g.InFlight("openrouter"))
	}
}

func TestAcquireCancel(t *testing.T) {
	g := New(map[string]Limit{"p": {MaxConcurrent: 1}}, Limit{})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(cctx, "p"); err == nil {
		t.Fatal("expected error when seat unavailable and ctx expires")
	}
	if g.InFlight("p") != 1 {
		t.Fatalf("cancelled acquire must not leak a seat, in-flight = %d", g.InFlight("p"))
	}
}

func TestReleaseIdempotent(t *testing.T) {
	g := New(map[string]Limit{"p": {MaxConcurrent: 1}}, Limit{})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()
	release()

	// 席位必须可再次获取且计数不为负
	r2, err := g.Acquire(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	r2()
	if g.InFlight("p") != 0 {
		t.Fatalf("in-flight = %d after balanced acquire/release", g.InFlight("p"))
	}
}

func TestUnlimitedProvider(t *testing.T) {
	g := New(nil, Limit{})
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		release, err := g.Acquire(ctx, "anything")
		if err != nil {
			t.Fatal(err)
		}
		release()
	}
}

func TestDefaultLimitApplies(t *testing.T) {
	g := New(map[string]Limit{"known": {MaxConcurrent: 4}}, Limit{MaxConcurrent: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(cctx, "unknown"); err == nil {
		t.Fatal("default cap of 1 must block the second acquire")
	}
}
