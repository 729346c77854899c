// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFake_NowAdvances(t *testing.T) {
	fake := Fake(epoch)
	if got := fake.Now(); !got.Equal(epoch) {
		t.Errorf("Now() = %v, want %v", got, epoch)
	}
	fake.Advance(90 * time.Second)
	if got := fake.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, epoch.Add(90*time.Second))
	}
}

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("fire time = %v, want %v", fired, epoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFake_AfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFake_TickerReschedules(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(5 * time.Second)
	defer ticker.Stop()

	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("first tick missing")
	}

	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("second tick missing")
	}
}

func TestFake_StoppedTickerDoesNotFire(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	ticker.Stop()

	fake.Advance(3 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})

	go func() {
		fake.Sleep(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
