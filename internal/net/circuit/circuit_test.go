package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/fundsync/internal/models"
)

func testConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            time.Second,
		Timeout:             50 * time.Millisecond,
		ConsecutiveFailures: 3,
	}
}

func TestManager_ClosedOnSuccess(t *testing.T) {
	manager := NewManager(testConfig())

	// Should start closed and stay closed on success
	if manager.State(models.VenueBinance) != gobreaker.StateClosed {
		t.Errorf("Breaker should start closed, got %s", manager.State(models.VenueBinance))
	}

	_, err := manager.Execute(models.VenueBinance, func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Errorf("Successful call should not error: %v", err)
	}

	if manager.State(models.VenueBinance) != gobreaker.StateClosed {
		t.Errorf("Breaker should remain closed after success, got %s", manager.State(models.VenueBinance))
	}
}

func TestManager_OpensOnConsecutiveFailures(t *testing.T) {
	manager := NewManager(testConfig())
	boom := errors.New("venue down")

	for i := 0; i < 3; i++ {
		_, err := manager.Execute(models.VenueBybit, func() (interface{}, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Call %d should surface the failure, got %v", i, err)
		}
	}

	if manager.State(models.VenueBybit) != gobreaker.StateOpen {
		t.Errorf("Breaker should be open after 3 consecutive failures, got %s", manager.State(models.VenueBybit))
	}

	// Open breaker fails fast without invoking fn
	invoked := false
	_, err := manager.Execute(models.VenueBybit, func() (interface{}, error) {
		invoked = true
		return nil, nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Open breaker should return ErrOpenState, got %v", err)
	}
	if invoked {
		t.Error("Open breaker should not invoke fn")
	}
}

func TestManager_VenuesAreIsolated(t *testing.T) {
	manager := NewManager(testConfig())

	for i := 0; i < 3; i++ {
		manager.Execute(models.VenueMexc, func() (interface{}, error) {
			return nil, errors.New("mexc down")
		})
	}

	if manager.State(models.VenueMexc) != gobreaker.StateOpen {
		t.Fatalf("MEXC breaker should be open, got %s", manager.State(models.VenueMexc))
	}

	// Other venues keep flowing
	_, err := manager.Execute(models.VenueHyperliquid, func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Errorf("Healthy venue should not be affected: %v", err)
	}
}

func TestManager_HalfOpenRecovery(t *testing.T) {
	manager := NewManager(testConfig())

	for i := 0; i < 3; i++ {
		manager.Execute(models.VenueBinance, func() (interface{}, error) {
			return nil, errors.New("down")
		})
	}

	// Wait out the open timeout, then a success closes the breaker
	time.Sleep(60 * time.Millisecond)

	_, err := manager.Execute(models.VenueBinance, func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Errorf("Half-open probe should succeed: %v", err)
	}

	if manager.State(models.VenueBinance) != gobreaker.StateClosed {
		t.Errorf("Breaker should close after successful probe, got %s", manager.State(models.VenueBinance))
	}
}

func TestManager_Stats(t *testing.T) {
	manager := NewManager(testConfig())

	manager.Execute(models.VenueBinance, func() (interface{}, error) {
		return "ok", nil
	})
	manager.Execute(models.VenueBinance, func() (interface{}, error) {
		return nil, errors.New("down")
	})

	stats := manager.Stats()
	status, exists := stats[models.VenueBinance]
	if !exists {
		t.Fatal("Stats should include the venue")
	}

	if status.Venue != models.VenueBinance {
		t.Errorf("Status venue should be %s, got %s", models.VenueBinance, status.Venue)
	}
	if status.Counts.Requests != 2 {
		t.Errorf("Should have counted 2 requests, got %d", status.Counts.Requests)
	}
	if status.ErrorRate != 50.0 {
		t.Errorf("Error rate should be 50%%, got %f", status.ErrorRate)
	}
}
