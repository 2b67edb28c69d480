// Command quicd drives a draft-17..20 QUIC connection core from either
// side of the wire, grounded on the teacher's cmd/quince and expanded
// into a Cobra command tree per the ambient CLI stack.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "quicd",
		Short: "Drive a draft-17..20 QUIC connection as client or server",
	}
	root.AddCommand(newClientCommand())
	root.AddCommand(newServerCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
