// veil-config generates the per-player configuration files for a
// computation: the roster, the threshold and fresh PRSS key material.
//
// Usage:
//
//	veil-config -t 1 -o ./conf host1:7001 host2:7001 host3:7001
//
// writes player1.veil .. player3.veil into ./conf. Each file is secret
// and must only be given to its player.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veilmpc/veil/pkg/config"
)

func main() {
	threshold := flag.Int("t", 1, "corruption threshold, must satisfy t < n/2")
	outDir := flag.String("o", ".", "output directory")
	flag.Parse()

	addresses := flag.Args()
	if len(addresses) == 0 {
		fmt.Fprintln(os.Stderr, "usage: veil-config [-t threshold] [-o dir] address...")
		os.Exit(2)
	}

	configs, err := config.Generate(rand.Reader, *threshold, addresses)
	if err != nil {
		fmt.Fprintln(os.Stderr, "veil-config:", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "veil-config:", err)
		os.Exit(1)
	}
	for _, c := range configs {
		path := filepath.Join(*outDir, fmt.Sprintf("player%d.veil", c.ID))
		if err := c.WriteFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "veil-config:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
	}
}
