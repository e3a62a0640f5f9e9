package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/govarcall/internal/observability"
	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/source"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Pack and inspect training datasets",
}

var datasetPackCmd = &cobra.Command{
	Use:   "pack <features> <labels> <output>",
	Short: "Pack text feature and label rows into a dataset container",
	Long: `Pack paired whitespace-separated feature and label rows into a
block-compressed dataset container.

Both inputs must have the same number of rows. Blank lines and lines
starting with '#' are skipped. The output may be a local path or an s3 URI.`,
	Args: cobra.ExactArgs(3),
	RunE: runDatasetPack,
}

var datasetInspectCmd = &cobra.Command{
	Use:   "inspect <dataset>",
	Short: "Show a dataset container header",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetInspect,
}

var (
	datasetBlockSize int
	datasetJSON      bool
)

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetPackCmd)
	datasetCmd.AddCommand(datasetInspectCmd)

	datasetPackCmd.Flags().IntVar(&datasetBlockSize, "block-size", dataset.DefaultBlockSize, "Rows per compressed block")
	datasetInspectCmd.Flags().BoolVar(&datasetJSON, "json", false, "Output as JSON")
}

func runDatasetPack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	opener := source.NewOpener(s3Template(cfg))
	defer func() { _ = opener.Close() }()

	h, err := executeDatasetPack(ctx, opener, args[0], args[1], args[2], datasetBlockSize)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Packed %d rows (%d features, %d labels) into %s\n",
		h.Size, h.X.Width, h.Y.Width, args[2])
	return nil
}

func executeDatasetPack(ctx context.Context, opener *source.Opener, featuresURI, labelsURI, outURI string, blockSize int) (dataset.Header, error) {
	if blockSize < 1 {
		return dataset.Header{}, exitError(foundry.ExitInvalidArgument, "Invalid --block-size",
			fmt.Errorf("block size must be >= 1, got %d", blockSize))
	}
	features, err := opener.Open(ctx, featuresURI)
	if err != nil {
		return dataset.Header{}, classifiedExit("Failed to open features", err)
	}
	defer func() { _ = features.Close() }()
	labels, err := opener.Open(ctx, labelsURI)
	if err != nil {
		return dataset.Header{}, classifiedExit("Failed to open labels", err)
	}
	defer func() { _ = labels.Close() }()

	start := time.Now()
	d, err := dataset.Pack(features, labels, blockSize)
	if err != nil {
		return dataset.Header{}, classifiedExit("Failed to pack dataset", err)
	}
	defer d.Close()

	loc, err := source.ParseURI(outURI)
	if err != nil {
		return dataset.Header{}, exitError(foundry.ExitInvalidArgument, "Invalid output location", err)
	}
	local := loc.Key
	if loc.IsRemote() {
		dir, err := os.MkdirTemp("", "govarcall-pack-")
		if err != nil {
			return dataset.Header{}, exitError(foundry.ExitFileWriteError, "Failed to create temp dir", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		local = filepath.Join(dir, filepath.Base(loc.Key))
	}
	if err := writeDataset(d, local); err != nil {
		return dataset.Header{}, exitError(foundry.ExitFileWriteError, "Failed to write dataset", err)
	}
	if loc.IsRemote() {
		if err := opener.Upload(ctx, local, outURI); err != nil {
			return dataset.Header{}, classifiedExit("Failed to upload dataset", err)
		}
	}

	h := d.Header()
	observability.CLILogger.Debug("Packed dataset",
		zap.Int("rows", h.Size),
		zap.Int("blocks", d.Blocks()),
		zap.Int64("compressed_bytes", d.X.CompressedBytes()+d.Y.CompressedBytes()),
		zap.Duration("elapsed", time.Since(start)))
	return h, nil
}

func writeDataset(d *dataset.Dataset, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if _, err := d.WriteTo(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func runDatasetInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	opener := source.NewOpener(s3Template(cfg))
	defer func() { _ = opener.Close() }()
	return executeDatasetInspect(ctx, opener, args[0], datasetJSON, cmd.OutOrStdout())
}

func executeDatasetInspect(ctx context.Context, opener *source.Opener, uri string, asJSON bool, w io.Writer) error {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return classifiedExit("Failed to open dataset", err)
	}
	defer func() { _ = rc.Close() }()

	h, err := dataset.ReadHeader(rc)
	if err != nil {
		return classifiedExit("Failed to read dataset header", err)
	}
	if asJSON {
		return writeJSONOutput(w, h)
	}

	var xBytes, yBytes int64
	for _, n := range h.X.Frames {
		xBytes += n
	}
	for _, n := range h.Y.Frames {
		yBytes += n
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Format:\t%s\n", h.Format)
	_, _ = fmt.Fprintf(tw, "Rows:\t%d\n", h.Size)
	_, _ = fmt.Fprintf(tw, "Block size:\t%d\n", h.BlockSize)
	_, _ = fmt.Fprintf(tw, "Blocks:\t%d\n", dataset.BlockCount(h.Size, h.BlockSize))
	_, _ = fmt.Fprintf(tw, "Feature width:\t%d\n", h.X.Width)
	_, _ = fmt.Fprintf(tw, "Label width:\t%d\n", h.Y.Width)
	_, _ = fmt.Fprintf(tw, "Compressed:\t%s features, %s labels\n", formatBytes(xBytes), formatBytes(yBytes))
	if !h.CreatedAt.IsZero() {
		_, _ = fmt.Fprintf(tw, "Created:\t%s\n", h.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
