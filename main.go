// main.go
package main

import "github.com/dfmorales/rastreo-cli/cmd"

func main() {
	cmd.Execute()
}
