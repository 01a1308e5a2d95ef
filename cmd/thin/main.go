// Command thin extracts one architecture slice out of a universal binary
// and writes its bytes unchanged to an output file.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/binaryinspect/machofmt"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <file_path> <output>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, output string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	ff, err := macho.NewFatFile(src)
	if err != nil {
		return fmt.Errorf("%s is not a fat Mach-O: %w", path, err)
	}

	idx, err := pickArch(ff.Arches)
	if err != nil {
		return err
	}
	arch := ff.Arches[idx]

	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	sr := io.NewSectionReader(src, int64(arch.Offset), int64(arch.Size))
	if _, err := io.Copy(dst, sr); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	return nil
}

func pickArch(arches []macho.FatArch) (int, error) {
	for i, a := range arches {
		fmt.Printf("%d: %s, %s\n", i, a.CPU, a.SubCPU)
	}
	fmt.Print("> ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("reading selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(arches) {
		return 0, fmt.Errorf("invalid architecture selection %q", line)
	}
	return idx, nil
}
