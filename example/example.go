// Three players secret-share the inputs 2, 3 and 4 and jointly compute
// their product without any player seeing another player's input. The
// players run in one process over an in-memory network; swap in
// transport.Mesh and config files from veil-config to run them on
// separate machines.
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/veilmpc/veil/internal/test"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/mpc"
	"github.com/veilmpc/veil/pkg/party"
)

func main() {
	f := field.MustPrime(big.NewInt(1031))
	inputs := map[party.ID]uint64{1: 2, 2: 3, 3: 4}
	ctx := context.Background()

	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		var secret field.Element
		if v, ok := inputs[rt.Self()]; ok {
			secret = f.Element(v)
		}

		x := rt.Input(f, 1, secret)
		y := rt.Input(f, 2, secret)
		z := rt.Input(f, 3, secret)

		product, err := rt.Open(rt.Mul(rt.Mul(x, y), z)).Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("player %v: the product is %v\n", rt.Self(), product)
		return rt.Synchronize(ctx)
	})
	if err != nil {
		log.Fatal(err)
	}
}
