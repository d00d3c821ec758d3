/*
Package adapter connects configured connection profiles to open files.

An Adapter owns three resource caches and the admission gate:

	sessions  ConnectionIdentity -> Session    (dialed with retry)
	shares    ShareKey           -> Share
	handles   HandleKey          -> FileHandle (read-only lookups, with TTL)

Open resolves a path, takes an admission slot and returns an unopened
filesystem.ProxyFile. The slot is held until the file is released, so the
gate bounds the number of remote streams open at once across all
connections. Handles opened for writing are not cached; releasing them drops
any cached read handle for the same path so later lookups see the new size.

Dials to a host that keeps failing at the connection level are cut short by
a per-host circuit breaker (network.breaker). Invalidate resets it.

Usage:

	registry := storage.NewDefaultRegistry(cfg.Network.Timeouts.Connect, logger, collector)
	a, err := adapter.New(cfg, registry, collector, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	f, err := a.Open(ctx, profile, "reports/q3.csv", types.ModeRead)
	if err != nil {
		return err
	}
	defer f.Release()

Every resource an admitted file uses is pinned in its cache until the file is
released. Eviction or Invalidate still removes a pinned entry, but its Close
is deferred to the last release, so open files never lose their session.
*/
package adapter
