package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cisentry/cisentry/internal/config"
)

// Copies the incident database to a .bak sibling. Stop the server first:
// a copy taken mid-write is not guaranteed consistent.
func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	src := cfg.DatabasePath
	dst := src + ".bak"

	if _, err := os.Stat(src); err != nil {
		fmt.Fprintf(os.Stderr, "Nothing to back up: %v\n", err)
		os.Exit(1)
	}

	n, err := copyFile(src, dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backup error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Backed up %s to %s (%d bytes)\n", src, dst, n)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}

	return n, out.Close()
}
