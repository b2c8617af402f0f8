// Package main hosts the anycrawl service entrypoint.
package main

import "github.com/jackronrau/AnyCrawl-sub001/cmd"

func main() {
	cmd.Execute()
}
