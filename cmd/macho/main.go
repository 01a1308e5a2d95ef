// Command macho parses a Mach-O or universal binary and dumps its header,
// load commands, segments and sections to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

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
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ff, err := macho.NewFatFile(f)
	if err == nil {
		arch, err := pickArch(ff.Arches)
		if err != nil {
			return err
		}
		fmt.Print(arch.FileTOC.String())
		return nil
	}
	if err != macho.ErrNotFat {
		return fmt.Errorf("parsing %s as a fat binary: %w", path, err)
	}

	m, err := macho.NewFile(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	fmt.Print(m.FileTOC.String())
	return nil
}

func pickArch(arches []macho.FatArch) (*macho.FatArch, error) {
	for i, a := range arches {
		fmt.Printf("%d: %s, %s\n", i, a.CPU, a.SubCPU)
	}
	fmt.Print("> ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(arches) {
		return nil, fmt.Errorf("invalid architecture selection %q", line)
	}
	return &arches[idx], nil
}
