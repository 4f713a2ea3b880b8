package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aligator/fatvol"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type formatFlags struct {
	size           string
	fatType        string
	clusterSectors uint8
	fats           uint8
	rootEntries    uint16
	reserved       uint16
	label          string
}

func (f *formatFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.size, "size", "", "Create or resize the image to this size, e.g. 32MiB")
	flags.StringVar(&f.fatType, "type", "", "FAT type: fat12, fat16 or fat32. Chosen by the size if empty")
	flags.Uint8Var(&f.clusterSectors, "cluster-sectors", 0, "Sectors per cluster, 0 selects the recommended value")
	flags.Uint8Var(&f.fats, "fats", 2, "Number of FATs")
	flags.Uint16Var(&f.rootEntries, "root-entries", 512, "Entries of the FAT12/FAT16 root directory")
	flags.Uint16Var(&f.reserved, "reserved", 0, "Reserved sectors, 0 selects the default")
	flags.StringVar(&f.label, "label", "", "Volume label")
}

func parseFATType(s string) (fatvol.FATType, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "fat12", "12":
		return fatvol.FAT12, nil
	case "fat16", "16":
		return fatvol.FAT16, nil
	case "fat32", "32":
		return fatvol.FAT32, nil
	}
	return 0, fmt.Errorf("unknown FAT type %q", s)
}

func (f *formatFlags) options() (fatvol.FormatOptions, error) {
	t, err := parseFATType(f.fatType)
	if err != nil {
		return fatvol.FormatOptions{}, err
	}

	return fatvol.FormatOptions{
		Type:              t,
		SectorsPerCluster: f.clusterSectors,
		NumFATs:           f.fats,
		RootEntries:       f.rootEntries,
		ReservedSectors:   f.reserved,
		Label:             f.label,
		Logger:            log.StandardLogger(),
	}, nil
}

func formatCmd() *cobra.Command {
	var flags formatFlags
	cmd := &cobra.Command{
		Use:   "format",
		Short: "create an empty FAT volume",
		Long:  `Create an empty FAT volume on the whole image. All data on the image is lost.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}

			if flags.size != "" {
				size, err := humanize.ParseBytes(flags.size)
				if err != nil {
					return fmt.Errorf("invalid size %q: %v", flags.size, err)
				}
				if err := createImage(size); err != nil {
					return err
				}
			}

			dev, cache, err := openCache(os.O_RDWR)
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := fatvol.Format(cache, opts); err != nil {
				return fmt.Errorf("could not format %s: %w", imagePath, err)
			}
			log.Infof("Formatted %s (%s)", imagePath, humanize.IBytes(uint64(cache.LbCount())*uint64(sectorSize)))
			return nil
		},
	}

	flags.register(cmd.Flags())
	return cmd
}

func createImage(size uint64) error {
	f, err := appFs.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	size -= size % uint64(sectorSize)
	return f.Truncate(int64(size))
}
