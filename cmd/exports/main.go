// Command exports prints the name and terminal info of every symbol in a
// Mach-O file's export trie.
package main

import (
	"fmt"
	"os"

	"github.com/binaryinspect/machofmt"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file_path>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	m, err := macho.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer m.Close()

	exports, err := m.DyldExports()
	if err != nil {
		return fmt.Errorf("reading exports from %s: %w", path, err)
	}

	for _, e := range exports {
		fmt.Println(e.String())
	}
	return nil
}
