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

package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestPublishSubscribeLive(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}

	id, err := bus.Publish(ctx, "s1", TypeHuntStart, map[string]int64{"hunt_id": 1})
	if err != nil {
		t.Fatal(err)
	}

	ev := recvOne(t, ch)
	if ev.ID != id || ev.Type != TypeHuntStart {
		t.Fatalf("got %+v, want id=%s type=%s", ev, id, TypeHuntStart)
	}
	var data map[string]int64
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["hunt_id"] != 1 {
		t.Fatalf("payload = %v", data)
	}
}

func TestReplayFromAfterID(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := bus.Publish(ctx, "s1", TypeHuntProgress, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// 从第一个事件之后续读：只收到后两条
	ch, err := bus.Subscribe(ctx, "s1", ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev := recvOne(t, ch); ev.ID != ids[1] {
		t.Fatalf("first replayed = %s, want %s", ev.ID, ids[1])
	}
	if ev := recvOne(t, ch); ev.ID != ids[2] {
		t.Fatalf("second replayed = %s, want %s", ev.ID, ids[2])
	}
}

func TestMonotonicIDs(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx := context.Background()
	var prev int64
	for i := 0; i < 10; i++ {
		id, err := bus.Publish(ctx, "s1", TypeHuntProgress, nil)
		if err != nil {
			t.Fatal(err)
		}
		seq := parseSeq(id)
		if seq <= prev {
			t.Fatalf("id %s not increasing after seq %d", id, prev)
		}
		prev = seq
	}
}

func TestRingBufferDropsOldest(t *testing.T) {
	bus := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		if _, err := bus.Publish(ctx, "s1", TypeHuntProgress, nil); err != nil {
			t.Fatal(err)
		}
	}
	ch, err := bus.Subscribe(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	// 只剩最后 4 条，第一条应是 seq 7
	if ev := recvOne(t, ch); parseSeq(ev.ID) != 7 {
		t.Fatalf("oldest surviving seq = %d, want 7", parseSeq(ev.ID))
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestStreamsIsolatedPerSession(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s2", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Publish(ctx, "s1", TypeHuntResult, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Publish(ctx, "s2", TypeComplete, nil); err != nil {
		t.Fatal(err)
	}
	if ev := recvOne(t, ch); ev.Type != TypeComplete {
		t.Fatalf("cross-session leak: got %+v", ev)
	}
}
