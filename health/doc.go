// Package health checks that a cache's storage is usable.
//
// StoreChecker pings the backend and can run a write, read and delete
// probe. UsageChecker compares stored bytes against a quota. An Aggregator
// runs checkers concurrently and produces a JSON Report:
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewStoreChecker(backend, health.StoreCheckerConfig{Probe: true}))
//	agg.Register(health.NewUsageChecker(backend, health.UsageCheckerConfig{Quota: 50 << 30}))
//	rep := agg.Report(ctx)
//	_ = rep.WriteJSON(os.Stdout)
package health
