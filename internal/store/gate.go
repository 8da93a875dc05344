package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// gate is a per-account mutual exclusion lock that can be abandoned through a
// context. It holds at most one token; whoever placed the token owns the account.
type gate chan struct{}

func newGate() gate {
	return make(gate, 1)
}

func (g gate) acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) release() {
	<-g
}

// lockAccounts acquires the gates of states in ascending account id order and
// returns a function that releases them. The timeout bounds acquisition only.
func lockAccounts(ctx context.Context, timeout time.Duration, states []*accountState) (func(), error) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].account.ID < states[j].account.ID
	})

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]*accountState, 0, len(states))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].gate.release()
		}
	}

	for _, st := range states {
		if err := st.gate.acquire(acquireCtx); err != nil {
			unlock()
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		held = append(held, st)
	}
	return unlock, nil
}
