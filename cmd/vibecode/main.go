// vibecode command line client.
package main

import "github.com/vibecode/vibecode/internal/cli"

func main() {
	cli.Execute()
}
