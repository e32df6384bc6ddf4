package browser_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/entrhq/browserd/internal/testing/browsertest"
	"github.com/entrhq/browserd/pkg/browser"
)

// Random create/touch/close/advance sequences never grow the pool past its
// limit, and any eviction picks the session with the oldest last activity.
func TestPoolCapacityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("registry never exceeds max and evicts the oldest", prop.ForAll(
		func(max int, ops []int) bool {
			clock := browsertest.NewClock()
			m := browser.NewManager(browsertest.New(), browser.Options{
				MaxSessions:   max,
				SweepInterval: -1,
				Clock:         clock.Now,
			})
			ctx := context.Background()
			if err := m.Initialize(ctx); err != nil {
				return false
			}
			defer m.Shutdown(ctx)

			closed := map[string]bool{}
			for _, v := range ops {
				op, idx := v%4, v/4
				active := m.Sessions()

				switch op {
				case 0:
					var victim string
					if len(active) == max {
						oldest := active[0]
						for _, s := range active[1:] {
							if s.LastUsedAt.Before(oldest.LastUsedAt) {
								oldest = s
							}
						}
						victim = oldest.ID
					}
					if _, err := m.CreateSession(ctx); err != nil {
						return false
					}
					if victim != "" {
						for _, id := range m.ActiveSessionIDs() {
							if id == victim {
								return false
							}
						}
						closed[victim] = true
					}
				case 1:
					if len(active) > 0 {
						if _, err := m.CreatePage(ctx, active[idx%len(active)].ID); err != nil {
							return false
						}
					}
				case 2:
					if len(active) > 0 {
						id := active[idx%len(active)].ID
						if err := m.CloseSession(ctx, id); err != nil {
							return false
						}
						closed[id] = true
					}
				case 3:
					clock.Advance(time.Duration(idx+1) * time.Second)
				}

				if len(m.ActiveSessionIDs()) > max {
					return false
				}
			}

			for id := range closed {
				if _, err := m.CreatePage(ctx, id); !errors.Is(err, browser.ErrSessionNotFound) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.TestingRun(t)
}

// A sweep closes exactly the sessions idle for longer than the threshold.
func TestSweepThresholdProperty(t *testing.T) {
	const idle = 300 * time.Second

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sweep closes sessions strictly past the idle timeout", prop.ForAll(
		func(ages []int) bool {
			clock := browsertest.NewClock()
			m := browser.NewManager(browsertest.New(), browser.Options{
				MaxSessions:   len(ages) + 1,
				IdleTimeout:   idle,
				SweepInterval: -1,
				Clock:         clock.Now,
			})
			ctx := context.Background()
			if err := m.Initialize(ctx); err != nil {
				return false
			}
			defer m.Shutdown(ctx)

			sorted := append([]int(nil), ages...)
			sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

			end := clock.Now().Add(time.Hour)
			wantKept := 0
			for _, age := range sorted {
				clock.Set(end.Add(-time.Duration(age) * time.Second))
				if _, err := m.CreateSession(ctx); err != nil {
					return false
				}
				if time.Duration(age)*time.Second <= idle {
					wantKept++
				}
			}

			clock.Set(end)
			closed := m.Sweep(ctx)
			return closed == len(ages)-wantKept && len(m.ActiveSessionIDs()) == wantKept
		},
		gen.SliceOf(gen.IntRange(0, 600)),
	))

	properties.TestingRun(t)
}
