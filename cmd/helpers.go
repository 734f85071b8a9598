package cmd

import (
	"fmt"

	"polymath/internal/apiclient"
	"polymath/internal/optimistic"
	"polymath/internal/queue"
	"polymath/internal/syncer"
	"polymath/internal/syncconfig"
)

// openQueue opens the durable queue in the data directory.
func openQueue() (*queue.Store, error) {
	dir, err := syncconfig.DataDir()
	if err != nil {
		return nil, err
	}
	store, err := queue.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return store, nil
}

// newClient builds a backend client from config and auth state.
func newClient() (*apiclient.Client, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	return apiclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID), nil
}

// newMutator wires the optimistic layer over the backend, with the durable
// queue as its offline outbox. Mutations apply locally first; connectivity
// failures enqueue instead of failing.
func newMutator(q *queue.Store) (*optimistic.Mutator, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	return optimistic.NewMutator(optimistic.NewStore(), client, q), nil
}

// newSyncer wires a drain-loop syncer from config.
func newSyncer(q *queue.Store) (*syncer.Syncer, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	s := syncer.New(q, client)
	s.MaxAttempts = syncconfig.GetMaxAttempts()
	return s, nil
}
