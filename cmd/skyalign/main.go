// Command skyalign registers astronomical frames by matching star triangles.
package main

import (
	"os"

	"skyalign/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
