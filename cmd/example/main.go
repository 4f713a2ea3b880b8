package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aligator/fatvol"
	"github.com/aligator/fatvol/journal"
	"github.com/spf13/afero"
)

// main is just a example main to play with fatvol.
// It formats an in-memory image, writes some files and reads them back.
func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	mem := afero.NewMemMapFs()

	dev, err := mem.Create("fat.img")
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Truncate(16 << 20); err != nil {
		return err
	}

	cache, err := fatvol.NewBlockCache(dev, 512)
	if err != nil {
		return err
	}
	if err := fatvol.Format(cache, fatvol.FormatOptions{Label: "EXAMPLE"}); err != nil {
		return fmt.Errorf("could not format: %w", err)
	}

	journalFile, err := mem.Create("fat.journal")
	if err != nil {
		return err
	}
	j, err := journal.Open(journalFile, 16*1024)
	if err != nil {
		return err
	}

	vol, err := fatvol.Open(cache, fatvol.WithJournal(j))
	if err != nil {
		return err
	}
	defer vol.Close()

	label, err := vol.Label()
	if err != nil {
		return err
	}
	fmt.Printf("Opened volume '%v' with type %v\n\n", label, vol.Type())

	fat := fatvol.NewFs(vol)
	if err := fat.MkdirAll("docs/notes", 0777); err != nil {
		return err
	}
	if err := afero.WriteFile(fat, "README.md", []byte("# Hello World\n\nThis file lives on a FAT volume.\n"), 0666); err != nil {
		return err
	}
	if err := afero.WriteFile(fat, "docs/notes/A long file name.txt", []byte("Some notes."), 0666); err != nil {
		return err
	}

	err = afero.Walk(fat, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		fmt.Println(path, info.IsDir(), info.Size(), info.ModTime())
		return nil
	})
	if err != nil {
		return err
	}

	file, err := fat.Open("README.md")
	if err != nil {
		return fmt.Errorf("could not open the root file: %w", err)
	}
	defer file.Close()

	offset, err := file.Seek(2, io.SeekStart)
	if err != nil {
		return fmt.Errorf("could not seek: %w", err)
	}
	buffer := make([]byte, 11)
	n, err := file.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read the file: %w", err)
	}
	fmt.Printf("\nContent of README.md at offset %d: %q (%d bytes)\n", offset, buffer[:n], n)

	info, err := vol.Info()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d of %d clusters used\n", info.UsedClusters, info.TotalClusters)

	records, err := j.Records()
	if err != nil {
		return err
	}
	fmt.Printf("%d journal records written\n", len(records))
	return nil
}
