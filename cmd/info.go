package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aligator/fatvol/journal"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show the geometry and usage of the volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				info, err := img.vol.Info()
				if err != nil {
					return err
				}
				label, err := img.vol.Label()
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "Type:\t%v\n", info.Type)
				fmt.Fprintf(w, "Label:\t%s\n", label)
				fmt.Fprintf(w, "Sector size:\t%d\n", info.SectorSize)
				fmt.Fprintf(w, "Cluster size:\t%s\n", humanize.IBytes(uint64(info.ClusterSize)))
				fmt.Fprintf(w, "Size:\t%s\n", humanize.IBytes(uint64(info.TotalSectors)*uint64(info.SectorSize)))
				fmt.Fprintf(w, "Clusters:\t%s\n", humanize.Comma(int64(info.TotalClusters)))
				fmt.Fprintf(w, "Free:\t%s (%s clusters)\n", humanize.IBytes(uint64(info.FreeClusters)*uint64(info.ClusterSize)), humanize.Comma(int64(info.FreeClusters)))
				fmt.Fprintf(w, "Used:\t%s\n", humanize.IBytes(uint64(info.UsedClusters)*uint64(info.ClusterSize)))
				fmt.Fprintf(w, "Bad clusters:\t%d\n", info.BadClusters)
				fmt.Fprintf(w, "Journaled:\t%v\n", img.vol.Journaled())
				return w.Flush()
			})
		},
	}
}

func labelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label [new label]",
		Short: "show or change the volume label",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				if len(args) == 1 {
					return img.vol.SetLabel(args[0])
				}

				label, err := img.vol.Label()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), label)
				return nil
			})
		},
	}
}

func journalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal",
		Short: "list the records of the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if journalPath == "" {
				return errors.New("no journal given, use --journal")
			}

			file, err := appFs.OpenFile(journalPath, os.O_RDWR, 0)
			if err != nil {
				return err
			}
			j, err := journal.Open(file, journalSize)
			if err != nil {
				file.Close()
				return err
			}
			defer func() {
				err = multierr.Append(err, j.Close())
			}()

			records, err := j.Records()
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
}
