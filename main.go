// The main package for the relay executable.
package main

import (
	"github.com/JakeFAU/channel-relay/cmd"
)

func main() {
	cmd.Execute()
}
