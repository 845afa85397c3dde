package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// RunAll syncs every syncer concurrently, one goroutine per provider.
// Roles within a provider run in order. One provider failing does not
// cancel the others; reports line up with syncers (nil for a provider
// that could not start) and the error joins every provider's failure.
func RunAll(ctx context.Context, syncers []*Syncer, roles ...cloud.Role) ([]*Report, error) {
	reports := make([]*Report, len(syncers))
	errs := make([]error, len(syncers))

	var wg sync.WaitGroup

	for i, s := range syncers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rep, err := s.Sync(ctx, roles...)
			reports[i] = rep

			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.provider.Name(), err)
			}
		}()
	}

	wg.Wait()

	return reports, errors.Join(errs...)
}
