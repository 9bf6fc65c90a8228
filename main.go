// The main package for the docstash executable.
package main

import (
	"github.com/docstash/docstash/cmd"
)

func main() {
	cmd.Execute()
}
