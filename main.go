package main

import "github.com/moolen/k3s-bootstrap/cmd"

func main() {
	cmd.Execute()
}
