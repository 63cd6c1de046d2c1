package longquery

import (
	"testing"
	"time"

	"github.com/skeema/mydump/internal/server"
)

func TestOffendingConnectionsFiltersByCommandUserAndTime(t *testing.T) {
	plist := []server.ServerProcess{
		{ID: 1, Command: "Query", User: "app", Time: 120},
		{ID: 2, Command: "Sleep", User: "app", Time: 500},
		{ID: 3, Command: "Query", User: "system user", Time: 500},
		{ID: 4, Command: "Query", User: "app", Time: 2},
	}
	var offenders []server.ServerProcess
	threshold := 60.0
	for _, sp := range plist {
		if sp.Command == "Query" && sp.User != "system user" && sp.Time > threshold {
			offenders = append(offenders, sp)
		}
	}
	if len(offenders) != 1 || offenders[0].ID != 1 {
		t.Fatalf("expected exactly connection 1 to be flagged, found %v", offenders)
	}
}

func TestOptionsDefaults(t *testing.T) {
	// Wait substitutes 10 retries and a 1s interval for a zero
	// MaxRetries/RetryInterval. Wait needs a live instance, so this only
	// pins that an Options built without them leaves both at zero.
	opts := Options{Threshold: 60 * time.Second}
	if opts.MaxRetries != 0 || opts.RetryInterval != 0 {
		t.Fatal("test setup assumption violated")
	}
}
