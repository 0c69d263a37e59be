package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestProgressBar_NonTTYEmitsOnlyCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(3, "Compiling")
	p.SetWriter(buf)

	p.Increment()
	p.Increment()
	if buf.Len() != 0 {
		t.Errorf("non-TTY bar should stay quiet before completion, got: %q", buf.String())
	}

	p.Increment()
	out := buf.String()
	if !strings.Contains(out, "100%") || !strings.Contains(out, "Compiling") {
		t.Errorf("completion line should show 100%% and the description, got: %q", out)
	}

	// Finish after completion must not duplicate the 100% line.
	p.Finish()
	if got := strings.Count(buf.String(), "100%"); got != 1 {
		t.Errorf("expected exactly one 100%% line, got %d in %q", got, buf.String())
	}
}

func TestProgressBar_FinishFromPartial(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(10, "Compiling")
	p.SetWriter(buf)

	p.Increment()
	p.Finish()
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("Finish should complete the bar, got: %q", buf.String())
	}
}

func TestProgressBar_ConcurrentIncrements(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(50, "Compiling")
	p.SetWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment()
		}()
	}
	wg.Wait()

	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("50 concurrent increments should complete the bar, got: %q", buf.String())
	}
}

func TestProgressBar_IncrementPastTotalClamps(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(2, "Compiling")
	p.SetWriter(buf)

	p.Increment()
	p.Increment()
	p.Increment() // over-increment must not panic or exceed 100%
	if strings.Contains(buf.String(), "150%") {
		t.Errorf("bar exceeded 100%%: %q", buf.String())
	}
}

func TestSpinner_NonTTYPrintsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Syncing remote")
	s.SetWriter(buf)

	s.Start()
	s.Stop()

	out := buf.String()
	if strings.Count(out, "Syncing remote") != 1 {
		t.Errorf("non-TTY spinner should print its message exactly once, got: %q", out)
	}
}

func TestSpinner_StopWithMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Downloading")
	s.SetWriter(buf)

	s.Start()
	s.StopWithMessage("Download complete")
	if !strings.Contains(buf.String(), "Download complete") {
		t.Errorf("final message missing, got: %q", buf.String())
	}
}

func TestSpinner_DoubleStartAndStopAreSafe(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Working")
	s.SetWriter(buf)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop() // second stop must be a no-op
}
