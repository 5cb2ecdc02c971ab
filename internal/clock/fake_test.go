package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestFakeTickerFiresOnDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C:
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case now := <-tk.C:
		assert.Equal(t, time.Unix(1, 0), now)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
