package state

import (
	"testing"
	"time"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusDone, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCanceled, true},
		{StatusQueued, StatusDone, false},
		{StatusRunning, StatusQueued, false},
		{StatusDone, StatusRunning, false},
		{StatusFailed, StatusDone, false},
		{StatusCanceled, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestQueueItem_TransitionRejectsBackward(t *testing.T) {
	item := NewItem("/src/a.ipynb", "/q/a.ipynb", "")
	if err := item.Start("run-1", "/runs/run-1", time.Now()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := item.Transition(StatusQueued)
	if !nbqerrors.Is(err, nbqerrors.KindInvalid) {
		t.Fatalf("expected KindInvalid, got %v", err)
	}
	if item.Status != StatusRunning {
		t.Errorf("status changed on rejected transition: %s", item.Status)
	}
}

func TestNewItem_OnlyQueuedFieldsSet(t *testing.T) {
	item := NewItem("/src/a.ipynb", "/q/a_x.ipynb", "x")
	if item.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", item.Status)
	}
	if item.StartedAt != nil || item.EndedAt != nil || item.Success != nil || item.ReturnCode != nil {
		t.Error("run fields should be unset on a queued item")
	}
	if item.ID == "" {
		t.Error("ID should be set")
	}
	if item.Name() != "a_x.ipynb" {
		t.Errorf("Name() = %q", item.Name())
	}
}

func TestNewItemID_Ordered(t *testing.T) {
	prev := NewItemID()
	for i := 0; i < 100; i++ {
		next := NewItemID()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestQueueItem_Finish(t *testing.T) {
	now := time.Now()

	t.Run("done", func(t *testing.T) {
		item := NewItem("/a.py", "/q/a.py", "")
		_ = item.Start("r", "/r", now)
		if err := item.Finish(StatusDone, 0, "", now); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		if item.Success == nil || !*item.Success {
			t.Error("Success should be true")
		}
		if item.ReturnCode == nil || *item.ReturnCode != 0 {
			t.Error("ReturnCode should be 0")
		}
		if item.EndedAt == nil {
			t.Error("EndedAt should be set")
		}
	})

	t.Run("kill intent wins over exit code", func(t *testing.T) {
		item := NewItem("/a.py", "/q/a.py", "")
		_ = item.Start("r", "/r", now)
		_ = item.Transition(StatusCanceled)
		item.Error = ErrKilledByUser

		if err := item.Finish(StatusDone, -15, "", now); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		if item.Status != StatusCanceled {
			t.Errorf("Status = %s, want canceled", item.Status)
		}
		if item.Error != ErrKilledByUser {
			t.Errorf("Error = %q, want %q", item.Error, ErrKilledByUser)
		}
		if *item.Success {
			t.Error("canceled item should not be successful")
		}
		if *item.ReturnCode != -15 {
			t.Errorf("ReturnCode = %d, want -15", *item.ReturnCode)
		}
	})

	t.Run("queued item cannot finish", func(t *testing.T) {
		item := NewItem("/a.py", "/q/a.py", "")
		if err := item.Finish(StatusDone, 0, "", now); err == nil {
			t.Error("expected error finishing a queued item")
		}
	})

	t.Run("outcome must be terminal", func(t *testing.T) {
		item := NewItem("/a.py", "/q/a.py", "")
		_ = item.Start("r", "/r", now)
		_ = item.Transition(StatusCanceled)

		err := item.Finish(StatusRunning, 0, "", now)
		if !nbqerrors.Is(err, nbqerrors.KindInvalid) {
			t.Errorf("Finish(running) error = %v, want invalid transition", err)
		}
		if item.EndedAt != nil || item.ReturnCode != nil {
			t.Error("a rejected outcome must not be recorded")
		}
	})
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusDone, StatusFailed, StatusCanceled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestState_PopAndComplete(t *testing.T) {
	st := New()
	a := NewItem("/a.py", "/q/a.py", "")
	b := NewItem("/b.py", "/q/b.py", "")
	st.Queue = append(st.Queue, a, b)

	if !st.HasPending() {
		t.Error("HasPending should be true with queued items")
	}
	if got := st.Pop(); got != a {
		t.Fatalf("Pop returned %v, want first item", got)
	}
	st.Current = a
	if done := st.Complete(); done != a {
		t.Fatalf("Complete returned %v", done)
	}
	if st.Current != nil {
		t.Error("Current should be nil after Complete")
	}
	if len(st.History) != 1 || st.History[0] != a {
		t.Errorf("History = %v", st.History)
	}
	if len(st.Queue) != 1 || st.Queue[0] != b {
		t.Errorf("Queue = %v, want only the second item", st.Queue)
	}

	_ = st.Pop()
	if st.Pop() != nil {
		t.Error("Pop on empty queue should return nil")
	}
	if st.Complete() != nil {
		t.Error("Complete without current should return nil")
	}
	if st.HasPending() {
		t.Error("HasPending should be false")
	}
}

func TestState_Counts(t *testing.T) {
	st := New()
	for _, s := range []Status{StatusDone, StatusDone, StatusFailed, StatusCanceled} {
		st.History = append(st.History, &QueueItem{Status: s})
	}
	counts := st.Counts()
	if counts[StatusDone] != 2 || counts[StatusFailed] != 1 || counts[StatusCanceled] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}
