// Package antihammer tracks authentication failures per client address and
// blocks addresses that fail too often.
//
// Each failure adds one to the address's counter. Counters decay by one per
// cooldown period, so an address that stops failing is eventually forgotten.
// An address whose counter has reached the block threshold is refused until
// it decays below it.
//
// Two stores are provided:
//   - MemoryStore keeps counters in process; one ticker goroutine decays them.
//   - RedisStore shares counters between instances; keys expire instead of decaying.
//
// Usage:
//
//	store := antihammer.NewMemoryStore(cfg.Cooldown)
//	go store.Run(ctx)
//	guard := antihammer.New(store, cfg.BlockAttempts, logger)
//	if guard.Blocked(ctx, ip) { ... 403 ... }
//	guard.Fail(ctx, ip)
package antihammer
