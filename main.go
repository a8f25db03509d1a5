// main.go
// Application entry point: hands control to the chatrelay command tree.
package main

import "github.com/erilali/chatrelay/internal/cli"

func main() {
	cli.Execute()
}
