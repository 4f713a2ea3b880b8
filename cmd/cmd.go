package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aligator/fatvol"
	"github.com/aligator/fatvol/journal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	appFs = afero.NewOsFs()

	imagePath   string
	journalPath string
	journalSize int64
	sectorSize  int
)

func setupLogging(quiet bool, verbose int) error {
	log.SetLevel(log.InfoLevel)
	switch {
	case quiet:
		log.SetLevel(log.ErrorLevel)
	case verbose == 0:
		log.SetLevel(log.WarnLevel)
	case verbose == 1:
		log.SetLevel(log.InfoLevel)
	case verbose == 2:
		log.SetLevel(log.DebugLevel)
	case verbose == 3:
		log.SetLevel(log.TraceLevel)
	default:
		return errors.New("verbose flag can only be set to 0, 1, 2 or 3")
	}
	return nil
}

func newCmd() *cobra.Command {
	var (
		flagQuiet   bool
		flagVerbose int
	)
	cmd := &cobra.Command{
		Use:               "fatvol",
		Short:             "inspect and change FAT12, FAT16 and FAT32 images",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagQuiet, flagVerbose)
		},
	}

	cmd.AddCommand(formatCmd())
	cmd.AddCommand(infoCmd())
	cmd.AddCommand(labelCmd())
	cmd.AddCommand(journalCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(statCmd())
	cmd.AddCommand(catCmd())
	cmd.AddCommand(writeCmd())
	cmd.AddCommand(touchCmd())
	cmd.AddCommand(mkdirCmd())
	cmd.AddCommand(rmCmd())
	cmd.AddCommand(mvCmd())

	cmd.PersistentFlags().StringVarP(&imagePath, "image", "i", "fat.img", "Path of the image file")
	cmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Record all changes in this journal file")
	cmd.PersistentFlags().Int64Var(&journalSize, "journal-size", 64*1024, "Size of the journal in bytes")
	cmd.PersistentFlags().IntVar(&sectorSize, "sector-size", 512, "Logical sector size of the image")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Quiet execution")
	cmd.PersistentFlags().IntVarP(&flagVerbose, "verbose", "v", 0, "Verbosity of logging: 0 = warnings, 1 = info, 2 = debug, 3 = trace")

	return cmd
}

// image is an opened image file with its volume.
type image struct {
	dev afero.File
	vol *fatvol.Volume
	fs  *fatvol.Fs
}

func openCache(flag int) (afero.File, *fatvol.BlockCache, error) {
	dev, err := appFs.OpenFile(imagePath, flag, 0644)
	if err != nil {
		return nil, nil, err
	}

	cache, err := fatvol.NewBlockCache(dev, sectorSize, fatvol.WithCacheLogger(log.StandardLogger()))
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("could not read image %s: %w", imagePath, err)
	}
	return dev, cache, nil
}

func openImage() (*image, error) {
	dev, cache, err := openCache(os.O_RDWR)
	if err != nil {
		return nil, err
	}

	opts := []fatvol.Option{fatvol.WithLogger(log.StandardLogger())}
	if journalPath != "" {
		file, err := appFs.OpenFile(journalPath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			dev.Close()
			return nil, err
		}
		j, err := journal.Open(file, journalSize, journal.WithLogger(log.StandardLogger()))
		if err != nil {
			dev.Close()
			file.Close()
			return nil, fmt.Errorf("could not open journal %s: %w", journalPath, err)
		}
		opts = append(opts, fatvol.WithJournal(j))
	}

	vol, err := fatvol.Open(cache, opts...)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("could not open volume %s: %w", imagePath, err)
	}

	return &image{dev: dev, vol: vol, fs: fatvol.NewFs(vol)}, nil
}

func (img *image) Close() error {
	return multierr.Combine(img.vol.Close(), img.dev.Close())
}

// withImage opens the image for fn and closes it afterwards.
func withImage(fn func(img *image) error) error {
	img, err := openImage()
	if err != nil {
		return err
	}
	return multierr.Append(fn(img), img.Close())
}
