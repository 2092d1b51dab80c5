/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/libris-hq/apiserver/cmd"

func main() {
	cmd.Execute()
}
