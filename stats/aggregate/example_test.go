package aggregate_test

import (
	"fmt"

	"github.com/cwbudde/algo-tes/stats/aggregate"
)

func ExampleAggregate() {
	rload := []float64{0.0201, 0.0199, 0.0200}
	s, _ := aggregate.Aggregate(rload, aggregate.MeanStd{})
	fmt.Printf("rload = %.4f ± %.4f\n", s.Center, s.Err)

	// Output:
	// rload = 0.0200 ± 0.0001
}
