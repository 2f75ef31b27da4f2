package general

import "sync"

// Group tracks a set of sender goroutines so that a round can wait for all
// of its sends to drain before the next round begins.
type Group struct {
	wg sync.WaitGroup
}

// Go launches f as a worker in the group.
func (g *Group) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// Join blocks until every worker has finished. The group is empty and
// reusable afterwards.
func (g *Group) Join() {
	g.wg.Wait()
}
