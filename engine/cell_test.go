package engine

import (
	"testing"

	"go.uber.org/goleak"
)

func TestCellEmpty(t *testing.T) {
	var c Cell
	if _, ok := c.Load(); ok {
		t.Error("an empty cell should not report a sample")
	}
}

func TestCellLatestWins(t *testing.T) {
	var c Cell
	for _, v := range []float64{12.1, 15.4, 13.9} {
		c.Store(Sample{Phase: Download, Value: v, Valid: true})
	}
	s, ok := c.Load()
	if !ok {
		t.Fatal("cell should report a sample after Store")
	}
	if s.Value != 13.9 {
		t.Errorf("Load returned %v, want the last stored value 13.9", s.Value)
	}
}

func TestCellConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t)
	var c Cell
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= 1000; i++ {
			c.Store(Sample{Phase: Download, Value: float64(i), Valid: true})
		}
	}()
	for {
		select {
		case <-done:
			s, ok := c.Load()
			if !ok || s.Value != 1000 {
				t.Errorf("final Load = %+v, want value 1000", s)
			}
			return
		default:
			if s, ok := c.Load(); ok && !s.Valid {
				t.Fatal("torn read: stored samples are always valid")
			}
		}
	}
}
