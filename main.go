// File: main.go
package main

import "github.com/anton-kulagin/chromy/cmd"

func main() {
	cmd.Execute()
}
