package main

import (
	"github.com/afetlabs/afet/pkg/cli"
)

func main() {
	cli.Execute()
}
