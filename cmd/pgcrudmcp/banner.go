package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

var bannerLines = []string{
	`                                                                 `,
	`  _ __   __ _  ___ _ __ _   _  __| |  _ __ ___   ___ _ __        `,
	` | '_ \ / _' |/ __| '__| | | |/ _' | | '_ ' _ \ / __| '_ \       `,
	` | |_) | (_| | (__| |  | |_| | (_| | | | | | | | (__| |_) |      `,
	` | .__/ \__, |\___|_|   \__,_|\__,_| |_| |_| |_|\___| .__/       `,
	` |_|    |___/                                       |_|          `,
	`                                                                 `,
}

// bannerColors shades the banner from green into cyan, one entry per line.
var bannerColors = []string{
	"\033[0m",
	"\033[1;32m",
	"\033[1;92m",
	"\033[1;36m",
	"\033[1;96m",
	"\033[1;34m",
	"\033[0m",
}

// printBanner writes the ASCII art banner, colored when useColor is set.
func printBanner(w io.Writer, useColor bool) {
	for i, line := range bannerLines {
		if useColor {
			fmt.Fprintf(w, "%s%s\033[0m\n", bannerColors[i%len(bannerColors)], line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}
