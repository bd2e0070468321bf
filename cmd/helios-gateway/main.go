package main

import "github.com/JakeFAU/helios-gateway/cmd"

func main() {
	cmd.Execute()
}
