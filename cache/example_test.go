package cache_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/xpersist/cache"
	"github.com/jonwraymond/xpersist/store"
)

func ExampleGetOrCompute() {
	c, err := cache.New(store.NewMemoryStore())
	if err != nil {
		panic(err)
	}
	defer c.Close()

	ctx := context.Background()
	grid := []float64{1.5, 2.5, 3, 4}
	calls := 0
	sumGrid := func(context.Context) (float64, error) {
		calls++
		var sum float64
		for _, v := range grid {
			sum += v
		}
		return sum, nil
	}

	call := cache.Call{Name: "climate.sum_grid", Args: []any{grid}}
	for range 2 {
		var out cache.Outcome
		sum, err := cache.GetOrCompute(ctx, c, call, sumGrid, cache.WithOutcome(&out))
		if err != nil {
			panic(err)
		}
		fmt.Println(out.Action, sum)
	}
	fmt.Println("calls:", calls)
	// Output:
	// create 11
	// hit 11
	// calls: 1
}

func ExampleCache_Prune() {
	c, _ := cache.New(store.NewMemoryStore())
	defer c.Close()
	ctx := context.Background()

	for i := range 3 {
		_, _ = cache.GetOrCompute(ctx, c, cache.Call{Name: "square", Args: []any{i}},
			func(context.Context) (int, error) { return i * i, nil })
	}

	report, err := c.Prune(ctx, cache.PruneOptions{Name: "square"})
	if err != nil {
		panic(err)
	}
	fmt.Println("removed:", len(report.Removed))
	// Output:
	// removed: 3
}
